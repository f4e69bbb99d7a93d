package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/persona-proxy/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu      sync.Mutex // guards entropy
	entropy *rand.Rand
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		version     INTEGER NOT NULL,
		supersedes  TEXT,
		content     TEXT NOT NULL,
		checksum    TEXT NOT NULL,
		source      TEXT NOT NULL DEFAULT 'cli',
		characters  INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		deleted_at  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_name ON snapshots(name, version DESC);
	CREATE INDEX IF NOT EXISTS idx_snapshots_deleted ON snapshots(deleted_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (s *SQLiteStore) Put(ctx context.Context, p PutParams) (*model.Snapshot, error) {
	name := p.Name
	if name == "" {
		name = DefaultName
	}
	source := p.Source
	if source == "" {
		source = model.SourceCLI
	}
	sum := checksum(p.Content)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Check for existing latest version
	row := tx.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
		 WHERE name = ? AND deleted_at IS NULL
		 ORDER BY version DESC LIMIT 1`, name)
	prev, err := scanSnapshot(row)

	version := 1
	var supersedes *string
	switch {
	case err == nil:
		if prev.Checksum == sum {
			return &prev, nil
		}
		version = prev.Version + 1
		supersedes = &prev.ID
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("query latest: %w", err)
	}

	// Versions keep counting past soft-deleted rows.
	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM snapshots WHERE name = ?`, name).Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("query max version: %w", err)
	}
	if maxVersion.Valid && int(maxVersion.Int64) >= version {
		version = int(maxVersion.Int64) + 1
	}

	id := s.newID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, name, version, supersedes, content, checksum, source, characters, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, version, supersedes, p.Content, sum, source, p.Characters, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	snap := &model.Snapshot{
		ID:         id,
		Name:       name,
		Version:    version,
		Content:    p.Content,
		Checksum:   sum,
		Source:     source,
		Characters: p.Characters,
		CreatedAt:  now,
	}
	if supersedes != nil {
		snap.Supersedes = *supersedes
	}
	return snap, nil
}

func (s *SQLiteStore) Get(ctx context.Context, p GetParams) ([]model.Snapshot, error) {
	name := p.Name
	if name == "" {
		name = DefaultName
	}

	var query string
	var args []interface{}
	switch {
	case p.History:
		query = `SELECT ` + snapshotColumns + ` FROM snapshots
				 WHERE name = ? AND deleted_at IS NULL ORDER BY version DESC`
		args = []interface{}{name}
	case p.Version > 0:
		query = `SELECT ` + snapshotColumns + ` FROM snapshots
				 WHERE name = ? AND version = ? AND deleted_at IS NULL LIMIT 1`
		args = []interface{}{name, p.Version}
	default:
		query = `SELECT ` + snapshotColumns + ` FROM snapshots
				 WHERE name = ? AND deleted_at IS NULL ORDER BY version DESC LIMIT 1`
		args = []interface{}{name}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return snaps, nil
}

func (s *SQLiteStore) Latest(ctx context.Context, name string) (*model.Snapshot, error) {
	snaps, err := s.Get(ctx, GetParams{Name: name})
	if err != nil {
		return nil, err
	}
	return &snaps[0], nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.version, s.supersedes, '', s.checksum, s.source,
		       s.characters, s.created_at, s.deleted_at
		FROM snapshots s
		INNER JOIN (
			SELECT name, MAX(version) AS max_ver
			FROM snapshots WHERE deleted_at IS NULL
			GROUP BY name
		) latest ON s.name = latest.name AND s.version = latest.max_ver
		ORDER BY s.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *SQLiteStore) Rm(ctx context.Context, p RmParams) error {
	name := p.Name
	if name == "" {
		name = DefaultName
	}

	if p.AllVersions {
		var res sql.Result
		var err error
		if p.Hard {
			res, err = s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name)
		} else {
			res, err = s.db.ExecContext(ctx,
				`UPDATE snapshots SET deleted_at = ? WHERE name = ? AND deleted_at IS NULL`,
				time.Now().UTC().Format(time.RFC3339Nano), name)
		}
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil
	}

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM snapshots WHERE name = ? AND deleted_at IS NULL ORDER BY version DESC LIMIT 1`,
		name).Scan(&id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if p.Hard {
		_, err = s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE snapshots SET deleted_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const snapshotColumns = `id, name, version, supersedes, content, checksum, source, characters, created_at, deleted_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row scanner) (model.Snapshot, error) {
	var snap model.Snapshot
	var supersedes, deletedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&snap.ID, &snap.Name, &snap.Version, &supersedes, &snap.Content,
		&snap.Checksum, &snap.Source, &snap.Characters, &createdAt, &deletedAt,
	)
	if err != nil {
		return snap, err
	}

	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if supersedes.Valid {
		snap.Supersedes = supersedes.String
	}
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deletedAt.String)
		snap.DeletedAt = &t
	}
	return snap, nil
}
