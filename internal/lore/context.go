package lore

import (
	"strings"

	"github.com/rcliao/persona-proxy/internal/model"
)

const (
	contextHeader = "[Lorebook Context]"
	promptHeader  = "[User Prompt]"
)

// WorldContext renders the world facts in a fixed field order. Absent
// fields are omitted.
func (s *Store) WorldContext() string {
	snap := s.current.Load()
	if snap == nil {
		return ""
	}
	return renderWorld(snap.world)
}

// CharacterContext renders one character when name is set, or every
// character in lorebook order separated by blank lines when name is empty.
// A name that is not in the lorebook renders as "".
func (s *Store) CharacterContext(name string) string {
	snap := s.current.Load()
	if snap == nil {
		return ""
	}
	return snap.characterContext(name)
}

// InjectContext prepends the world and character context to prompt. It
// returns prompt unchanged unless enabled is set and a lorebook is loaded.
func (s *Store) InjectContext(prompt, name string, enabled bool) string {
	if !enabled {
		return prompt
	}
	snap := s.current.Load()
	if snap == nil {
		return prompt
	}

	var parts []string
	if w := renderWorld(snap.world); w != "" {
		parts = append(parts, w)
	}
	if c := snap.characterContext(name); c != "" {
		parts = append(parts, c)
	}
	if len(parts) == 0 {
		return prompt
	}
	return contextHeader + "\n" + strings.Join(parts, "\n\n") + "\n\n" + promptHeader + "\n" + prompt
}

func (snap *snapshot) characterContext(name string) string {
	if name != "" {
		c, ok := snap.lookup(name)
		if !ok {
			return ""
		}
		return renderCharacter(c)
	}
	parts := make([]string, 0, len(snap.characters))
	for _, c := range snap.characters {
		parts = append(parts, renderCharacter(c))
	}
	return strings.Join(parts, "\n\n")
}

func renderWorld(w model.World) string {
	var lines []string
	if w.Setting != "" {
		lines = append(lines, "Setting: "+w.Setting)
	}
	if w.TimePeriod != "" {
		lines = append(lines, "Time Period: "+w.TimePeriod)
	}
	if w.TechnologyLevel != "" {
		lines = append(lines, "Technology: "+w.TechnologyLevel)
	}
	if w.MagicSystem != "" {
		lines = append(lines, "Magic System: "+w.MagicSystem)
	}
	if len(w.Locations) > 0 {
		lines = append(lines, "Key Locations:")
		lines = appendEntries(lines, w.Locations)
	}
	return strings.Join(lines, "\n")
}

func renderCharacter(c model.Character) string {
	name := c.Name
	if name == "" {
		name = "Unknown"
	}
	lines := []string{"Character: " + name}
	if c.Description != "" {
		lines = append(lines, "Description: "+c.Description)
	}
	if c.Personality != "" {
		lines = append(lines, "Personality: "+c.Personality)
	}
	if c.Background != "" {
		lines = append(lines, "Background: "+c.Background)
	}
	if c.Appearance != "" {
		lines = append(lines, "Appearance: "+c.Appearance)
	}
	if len(c.Quirks) > 0 {
		lines = append(lines, "Quirks: "+strings.Join(c.Quirks, ", "))
	}
	if len(c.Relationships) > 0 {
		lines = append(lines, "Relationships:")
		lines = appendEntries(lines, c.Relationships)
	}
	return strings.Join(lines, "\n")
}

func appendEntries(lines []string, entries model.Entries) []string {
	for _, e := range entries {
		lines = append(lines, "- "+e.Name+": "+e.Text)
	}
	return lines
}
