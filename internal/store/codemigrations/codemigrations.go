// Package codemigrations runs one-off Go data migrations after the SQL
// schema migrations, tracked in the code_migrations table so each runs
// exactly once. This mirrors the distinction the original rebuilderd
// draws between schema migrations and ad-hoc data migrations (e.g.
// retroactively compressing logs stored before compression existed).
package codemigrations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/r3e-network/rebuildverify/internal/compress"
)

// Migration is a single idempotent data migration.
type Migration struct {
	Name string
	Run  func(ctx context.Context, db *sql.DB) error
}

// All is the ordered list of data migrations. New entries are always appended.
var All = []Migration{
	{Name: "compress_logs", Run: compressLogs},
}

// Apply runs every migration in All that has not already been recorded.
func Apply(ctx context.Context, db *sql.DB) error {
	for _, m := range All {
		applied, err := wasApplied(ctx, db, m.Name)
		if err != nil {
			return fmt.Errorf("check code migration %s: %w", m.Name, err)
		}
		if applied {
			continue
		}
		if err := m.Run(ctx, db); err != nil {
			return fmt.Errorf("run code migration %s: %w", m.Name, err)
		}
		if err := markApplied(ctx, db, m.Name); err != nil {
			return fmt.Errorf("record code migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func wasApplied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM code_migrations WHERE name = ?`, name).Scan(&count)
	return count > 0, err
}

func markApplied(ctx context.Context, db *sql.DB, name string) error {
	_, err := db.ExecContext(ctx, `INSERT INTO code_migrations (name, applied_at) VALUES (?, ?)`, name, time.Now().UTC())
	return err
}

// compressLogs zstd-compresses any build/diffoscope/attestation log blob
// that predates the compression codec, leaving already-compressed blobs
// untouched (compression is idempotent: is_compressed guards re-encoding).
func compressLogs(ctx context.Context, db *sql.DB) error {
	tables := []string{"build_logs", "diffoscope_logs", "attestation_logs"}
	for _, table := range tables {
		if err := compressTable(ctx, db, table); err != nil {
			return fmt.Errorf("compress %s: %w", table, err)
		}
	}
	return nil
}

func compressTable(ctx context.Context, db *sql.DB, table string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT id, content FROM %s`, table))
	if err != nil {
		return err
	}
	type pending struct {
		id      int64
		content []byte
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.content); err != nil {
			rows.Close()
			return err
		}
		if !compress.IsCompressed(p.content) {
			todo = append(todo, p)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, p := range todo {
		compressed, err := compress.Compress(ctx, p.content)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET content = ? WHERE id = ?`, table), compressed, p.id); err != nil {
			return err
		}
	}
	return nil
}
