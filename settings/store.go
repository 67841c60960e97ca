package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hazyhaar/promptify/internal/dbopen"
)

// Schema is the DDL for the settings table.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);`

// Store persists the settings record.
type Store interface {
	// Load returns the stored record. Unset keys are empty.
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// SQLStore keeps one row per key.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore applies Schema to db and returns the store.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("settings: init schema: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) Load(ctx context.Context) (Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}
	defer rows.Close()

	var out Settings
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Settings{}, fmt.Errorf("settings: scan: %w", err)
		}
		if next, err := out.With(k, v); err == nil {
			out = next
		}
	}
	return out, rows.Err()
}

// Save writes every key. Empty fields delete their row so they fall back
// to the defaults again.
func (s *SQLStore) Save(ctx context.Context, rec Settings) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, k := range Keys {
			v, _ := rec.Get(k)
			if err := s.put(ctx, tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	if _, err := (Settings{}).Get(key); err != nil {
		return "", false, err
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("settings: get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	if _, err := (Settings{}).Get(key); err != nil {
		return err
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.put(ctx, tx, key, value)
	})
}

func (s *SQLStore) put(ctx context.Context, tx *sql.Tx, key, value string) error {
	var err error
	if value == "" {
		_, err = tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, s.now().Unix())
	}
	if err != nil {
		return fmt.Errorf("settings: put %s: %w", key, err)
	}
	return nil
}

// Effective loads the stored record, applies environment overrides and
// fills defaults. This is what a refine request uses.
func Effective(ctx context.Context, st Store) (Settings, error) {
	s, err := st.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	return s.ApplyEnv(os.LookupEnv).Resolve(), nil
}
