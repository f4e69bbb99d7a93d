package lore

import (
	"strings"

	"github.com/rcliao/persona-proxy/internal/model"
)

// Search finds characters and world facts containing query, ignoring case.
// Characters match on their name or any field value; world facts match on
// scalar values and on the keys and values of locations and rules. Results
// follow lorebook order and are not ranked.
func (s *Store) Search(query string) []model.LoreMatch {
	snap := s.current.Load()
	if snap == nil {
		return nil
	}
	q := strings.ToLower(query)
	contains := func(v string) bool { return strings.Contains(strings.ToLower(v), q) }

	var results []model.LoreMatch
	for i := range snap.characters {
		c := snap.characters[i]
		if characterMatches(c, contains) {
			results = append(results, model.LoreMatch{Type: model.MatchCharacter, Character: &c})
		}
	}

	w := snap.world
	scalar := func(key, value string) {
		if value != "" && contains(value) {
			results = append(results, model.LoreMatch{Type: model.MatchWorld, Key: key, Value: value})
		}
	}
	mapping := func(entries model.Entries) {
		for _, e := range entries {
			if contains(e.Name) || contains(e.Text) {
				results = append(results, model.LoreMatch{Type: model.MatchWorld, Key: e.Name, Value: e.Text})
			}
		}
	}
	scalar("setting", w.Setting)
	scalar("time_period", w.TimePeriod)
	mapping(w.Locations)
	mapping(w.Rules)
	scalar("magic_system", w.MagicSystem)
	scalar("technology_level", w.TechnologyLevel)

	return results
}

func characterMatches(c model.Character, contains func(string) bool) bool {
	for _, v := range []string{c.Name, c.Description, c.Personality, c.Background, c.Appearance} {
		if contains(v) {
			return true
		}
	}
	for _, q := range c.Quirks {
		if contains(q) {
			return true
		}
	}
	for _, r := range c.Relationships {
		if contains(r.Name) || contains(r.Text) {
			return true
		}
	}
	return false
}
