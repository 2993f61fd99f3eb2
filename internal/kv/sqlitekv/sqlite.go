// Package sqlitekv implements kv.Store on SQLite (modernc.org/sqlite).
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emoelevate/notesledger/internal/dbx"
	"github.com/emoelevate/notesledger/internal/kv"
	"github.com/emoelevate/notesledger/internal/kv/sqlitekv/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the database at dsn and applies migrations.
// SQLite serializes writers, so the pool is limited to one connection;
// this also keeps ":memory:" databases on a single connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	p, err := kv.Clean(path)
	if err != nil {
		return nil, err
	}

	var value []byte
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE path = ?`, p).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return value, nil
}

func (s *Store) Children(ctx context.Context, path string) (map[string][]byte, error) {
	p, err := kv.Clean(path)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, value FROM kv WHERE parent = ?`, p)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var child string
		var value []byte
		if err := rows.Scan(&child, &value); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out[kv.Base(child)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (s *Store) Commit(ctx context.Context, writes ...kv.Write) error {
	ws, err := kv.Prepare(writes...)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, w := range ws {
			if err := apply(ctx, tx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

func apply(ctx context.Context, tx dbx.DBTX, w kv.Write) error {
	var (
		res sql.Result
		err error
	)
	switch {
	case w.Delete:
		_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE path = ?`, w.Path)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	case w.Cond == kv.IfAbsent:
		res, err = tx.ExecContext(ctx, `
			INSERT INTO kv (path, parent, value) VALUES (?, ?, ?)
			ON CONFLICT(path) DO NOTHING
		`, w.Path, kv.Parent(w.Path), w.Value)
	case w.Cond == kv.IfEquals:
		res, err = tx.ExecContext(ctx, `UPDATE kv SET value = ? WHERE path = ? AND value = ?`,
			w.Value, w.Path, w.Expected)
	default:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO kv (path, parent, value) VALUES (?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET value = excluded.value
		`, w.Path, kv.Parent(w.Path), w.Value)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	ok, err := dbx.AffectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return kv.ConflictError(w)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
