// Package postgreskv implements kv.Store on PostgreSQL through the pgx
// database/sql driver.
package postgreskv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emoelevate/notesledger/internal/dbx"
	"github.com/emoelevate/notesledger/internal/kv"
	"github.com/emoelevate/notesledger/internal/kv/postgreskv/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, checks the connection and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
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
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	p, err := kv.Clean(path)
	if err != nil {
		return nil, err
	}

	var value []byte
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE path = $1`, p).Scan(&value)
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

	rows, err := s.db.QueryContext(ctx, `SELECT path, value FROM kv WHERE parent = $1`, p)
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
	if w.Delete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE path = $1`, w.Path); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	}

	var (
		res sql.Result
		err error
	)
	switch w.Cond {
	case kv.IfAbsent:
		res, err = tx.ExecContext(ctx, `
			INSERT INTO kv (path, parent, value) VALUES ($1, $2, $3)
			ON CONFLICT (path) DO NOTHING`,
			w.Path, kv.Parent(w.Path), w.Value)
	case kv.IfEquals:
		res, err = tx.ExecContext(ctx, `UPDATE kv SET value = $1 WHERE path = $2 AND value = $3`,
			w.Value, w.Path, w.Expected)
	default:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv (path, parent, value) VALUES ($1, $2, $3)
			ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value`,
			w.Path, kv.Parent(w.Path), w.Value); err != nil {
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
