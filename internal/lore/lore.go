// Package lore holds the lorebook: world facts and characters that can be
// injected into prompts for narrative consistency.
//
// A Store is read without locks. Load parses into a fresh snapshot and
// publishes it with an atomic swap, so concurrent readers see either the old
// or the new content, never a mix.
package lore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rcliao/persona-proxy/internal/model"
)

type snapshot struct {
	characters []model.Character
	index      map[string]int // lower-cased name -> position in characters
	world      model.World
}

// Store is the in-memory lorebook. The zero value is a valid, not-loaded
// store.
type Store struct {
	current atomic.Pointer[snapshot]
	log     *zap.Logger
}

// NewStore returns an empty, not-loaded store.
func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{log: log}
}

// Stats summarizes the loaded content.
type Stats struct {
	Loaded     bool     `json:"loaded"`
	Characters int      `json:"characters"`
	Names      []string `json:"names,omitempty"`
	World      bool     `json:"world"`
}

// Load parses blob and replaces the store content.
//
// Empty or whitespace-only input clears the store and returns false.
// Malformed JSON, or JSON that is neither an object nor an array, returns
// false and leaves the previous content in place.
func (s *Store) Load(blob string) bool {
	if strings.TrimSpace(blob) == "" {
		s.current.Store(nil)
		return false
	}
	snap, err := parse([]byte(blob))
	if err != nil {
		s.logger().Warn("lorebook rejected", zap.Error(err))
		return false
	}
	s.current.Store(snap)
	s.logger().Info("lorebook loaded",
		zap.Int("characters", len(snap.characters)),
		zap.Bool("world", !snap.world.IsZero()))
	return true
}

// Loaded reports whether a lorebook is active.
func (s *Store) Loaded() bool {
	return s.current.Load() != nil
}

// Stats returns a summary of the current content.
func (s *Store) Stats() Stats {
	snap := s.current.Load()
	if snap == nil {
		return Stats{}
	}
	st := Stats{Loaded: true, Characters: len(snap.characters), World: !snap.world.IsZero()}
	for _, c := range snap.characters {
		st.Names = append(st.Names, c.Name)
	}
	return st
}

// LookupCharacter finds a character by exact name, ignoring case.
func (s *Store) LookupCharacter(name string) (model.Character, bool) {
	snap := s.current.Load()
	if snap == nil {
		return model.Character{}, false
	}
	return snap.lookup(name)
}

// World returns the world facts of the current lorebook.
func (s *Store) World() model.World {
	if snap := s.current.Load(); snap != nil {
		return snap.world
	}
	return model.World{}
}

func (s *Store) logger() *zap.Logger {
	if s.log == nil {
		return zap.NewNop()
	}
	return s.log
}

type lorebookObject struct {
	Characters json.RawMessage `json:"characters"`
	World      *model.World    `json:"world"`
}

type taggedEntry struct {
	Type string `json:"type"`
	model.Character
	Data *model.World `json:"data"`
}

// parse decodes a lorebook in either the object shape
// ({"characters": {...}, "world": {...}}) or the tagged array shape
// ([{"type": "character", ...}, {"type": "world", "data": {...}}]).
func parse(data []byte) (*snapshot, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid lorebook json")
	}

	snap := &snapshot{index: map[string]int{}}
	switch data[0] {
	case '{':
		var obj lorebookObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("decode lorebook: %w", err)
		}
		chars, err := decodeCharacters(obj.Characters)
		if err != nil {
			return nil, err
		}
		for _, c := range chars {
			snap.add(c)
		}
		if obj.World != nil {
			snap.world = *obj.World
		}
	case '[':
		var entries []taggedEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode lorebook entries: %w", err)
		}
		for _, e := range entries {
			switch strings.ToLower(e.Type) {
			case model.MatchCharacter:
				snap.add(e.Character)
			case model.MatchWorld:
				if e.Data != nil {
					snap.world = snap.world.Merge(*e.Data)
				}
			}
		}
	default:
		return nil, fmt.Errorf("lorebook must be a json object or array")
	}
	return snap, nil
}

// decodeCharacters reads the "characters" object keeping document order.
// The map key is the character name.
func decodeCharacters(raw json.RawMessage) ([]model.Character, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode characters: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("characters must be an object")
	}
	var out []model.Character
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode characters: %w", err)
		}
		var c model.Character
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("decode character %v: %w", keyTok, err)
		}
		c.Name, _ = keyTok.(string)
		out = append(out, c)
	}
	return out, nil
}

func (snap *snapshot) lookup(name string) (model.Character, bool) {
	i, ok := snap.index[strings.ToLower(name)]
	if !ok {
		return model.Character{}, false
	}
	return snap.characters[i], true
}

// add appends c, or replaces an earlier character with the same name.
func (snap *snapshot) add(c model.Character) {
	key := strings.ToLower(c.Name)
	if i, ok := snap.index[key]; ok {
		snap.characters[i] = c
		return
	}
	snap.index[key] = len(snap.characters)
	snap.characters = append(snap.characters, c)
}
