// Package store persists lorebook snapshots so the proxy can restore the
// last accepted lorebook on restart and operators can inspect its history.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/persona-proxy/internal/model"
)

// DefaultName is the lorebook name used by the proxy.
const DefaultName = "default"

// ErrNotFound is returned when no live snapshot matches.
var ErrNotFound = errors.New("snapshot not found")

// PutParams holds parameters for storing a snapshot.
type PutParams struct {
	Name       string
	Content    string
	Source     string
	Characters int
}

// GetParams holds parameters for retrieving snapshots.
type GetParams struct {
	Name    string
	History bool
	Version int // 0 means latest
}

// RmParams holds parameters for deleting snapshots.
type RmParams struct {
	Name        string
	AllVersions bool
	Hard        bool
}

// Store defines the snapshot storage interface.
type Store interface {
	// Put stores a new version of a lorebook. Content identical to the
	// latest version is not stored again; the latest version is returned.
	Put(ctx context.Context, p PutParams) (*model.Snapshot, error)

	// Get retrieves snapshots by name.
	// Returns a slice (single element normally, all versions with History=true).
	Get(ctx context.Context, p GetParams) ([]model.Snapshot, error)

	// Latest returns the newest live version of name.
	Latest(ctx context.Context, name string) (*model.Snapshot, error)

	// List returns the latest version of every lorebook, without content.
	List(ctx context.Context) ([]model.Snapshot, error)

	// Rm soft-deletes (or hard-deletes) the latest or all versions.
	Rm(ctx context.Context, p RmParams) error

	// Close closes the store.
	Close() error
}
