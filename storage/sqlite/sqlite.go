// Package sqlite persists credential values in a SQLite key/value table
// through Bun. Multi-key writes run in a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// StateModel is the Bun model for persisted client values.
type StateModel struct {
	bun.BaseModel `bun:"table:client_state"`

	Key       string    `bun:"state_key,pk"`
	Value     string    `bun:"state_value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Backend stores credential values in SQLite.
type Backend struct {
	db  *bun.DB
	now func() time.Time
}

// New wraps an existing Bun database. Call CreateSchema before use.
func New(db *bun.DB) *Backend {
	return &Backend{db: db, now: time.Now}
}

// Open opens (or creates) the database file at path and ensures the schema.
func Open(ctx context.Context, path string) (*Backend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	b := New(bun.NewDB(sqldb, sqlitedialect.New()))
	if err := b.CreateSchema(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// CreateSchema creates the client_state table when missing.
func (b *Backend) CreateSchema(ctx context.Context) error {
	_, err := b.db.NewCreateTable().
		Model((*StateModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create client_state table: %w", err)
	}
	return nil
}

// Load returns every stored value.
func (b *Backend) Load(ctx context.Context) (map[string]string, error) {
	var rows []StateModel
	if err := b.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("load client state: %w", err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// Save upserts all values in one transaction.
func (b *Backend) Save(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := b.now()
	return b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for k, v := range values {
			model := &StateModel{Key: k, Value: v, UpdatedAt: now}
			_, err := tx.NewInsert().
				Model(model).
				On("CONFLICT (state_key) DO UPDATE").
				Set("state_value = EXCLUDED.state_value").
				Set("updated_at = EXCLUDED.updated_at").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("save client state %q: %w", k, err)
			}
		}
		return nil
	})
}

// Delete removes keys in one statement. Missing keys are ignored.
func (b *Backend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := b.db.NewDelete().
		Model((*StateModel)(nil)).
		Where("state_key IN (?)", bun.In(keys)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete client state: %w", err)
	}
	return nil
}

// DB exposes the underlying Bun database.
func (b *Backend) DB() *bun.DB {
	return b.db
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}
