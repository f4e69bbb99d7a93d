package model

import "time"

// Snapshot sources.
const (
	SourceConfig = "config"
	SourceFile   = "file"
	SourceAdmin  = "admin"
	SourceCLI    = "cli"
)

// Snapshot is one persisted version of a lorebook.
type Snapshot struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Version    int        `json:"version"`
	Supersedes string     `json:"supersedes,omitempty"`
	Content    string     `json:"content,omitempty"`
	Checksum   string     `json:"checksum"`
	Source     string     `json:"source"`
	Characters int        `json:"characters"`
	CreatedAt  time.Time  `json:"created_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}
