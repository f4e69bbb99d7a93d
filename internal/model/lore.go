package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Entry is one name/text pair of an ordered mapping.
type Entry struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Entries is a JSON object decoded with its key order preserved, so that
// rendering and search follow the order of the source document.
type Entries []Entry

// UnmarshalJSON accepts an object of scalars, null, or a bare string (stored
// as a single entry with an empty name).
func (e *Entries) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = Entries{{Text: s}}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}

	out := Entries{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out = append(out, Entry{Name: key, Text: scalarText(raw)})
	}
	*e = out
	return nil
}

// MarshalJSON writes the entries back as an object in order.
func (e Entries) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range e {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(entry.Name)
		v, _ := json.Marshal(entry.Text)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// scalarText renders a JSON value as plain text: strings unquoted, null
// empty, anything else as compact JSON.
func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Character is a lorebook character entry.
type Character struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Personality   string   `json:"personality"`
	Background    string   `json:"background"`
	Relationships Entries  `json:"relationships"`
	Appearance    string   `json:"appearance"`
	Quirks        []string `json:"quirks"`
}

// World holds the lorebook world facts.
type World struct {
	Setting         string  `json:"setting"`
	TimePeriod      string  `json:"time_period"`
	Locations       Entries `json:"locations"`
	Rules           Entries `json:"rules"`
	MagicSystem     string  `json:"magic_system"`
	TechnologyLevel string  `json:"technology_level"`
}

// IsZero reports whether no world field is set.
func (w World) IsZero() bool {
	return w.Setting == "" && w.TimePeriod == "" && len(w.Locations) == 0 &&
		len(w.Rules) == 0 && w.MagicSystem == "" && w.TechnologyLevel == ""
}

// Merge overlays the non-empty fields of other onto w.
func (w World) Merge(other World) World {
	if other.Setting != "" {
		w.Setting = other.Setting
	}
	if other.TimePeriod != "" {
		w.TimePeriod = other.TimePeriod
	}
	if len(other.Locations) > 0 {
		w.Locations = other.Locations
	}
	if len(other.Rules) > 0 {
		w.Rules = other.Rules
	}
	if other.MagicSystem != "" {
		w.MagicSystem = other.MagicSystem
	}
	if other.TechnologyLevel != "" {
		w.TechnologyLevel = other.TechnologyLevel
	}
	return w
}

// Lore match kinds.
const (
	MatchCharacter = "character"
	MatchWorld     = "world"
)

// LoreMatch is a tagged lorebook search result.
type LoreMatch struct {
	Type      string     `json:"type"`
	Character *Character `json:"character,omitempty"`
	Key       string     `json:"key,omitempty"`
	Value     string     `json:"value,omitempty"`
}
