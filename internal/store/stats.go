package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath          string      `json:"db_path"`
	DBSizeBytes     int64       `json:"db_size_bytes"`
	TotalSnapshots  int         `json:"total_snapshots"`
	ActiveSnapshots int         `json:"active_snapshots"`
	Lorebooks       []NameStats `json:"lorebooks"`
}

// NameStats holds per-lorebook counts.
type NameStats struct {
	Name     string `json:"name"`
	Versions int    `json:"versions"`
	Latest   int    `json:"latest"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	// DB file size
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&st.TotalSnapshots); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE deleted_at IS NULL`).Scan(&st.ActiveSnapshots); err != nil {
		return st, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, COUNT(*) AS cnt, MAX(version) AS latest
		FROM snapshots WHERE deleted_at IS NULL
		GROUP BY name ORDER BY name`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ns NameStats
		if err := rows.Scan(&ns.Name, &ns.Versions, &ns.Latest); err != nil {
			return st, err
		}
		st.Lorebooks = append(st.Lorebooks, ns)
	}
	return st, rows.Err()
}
