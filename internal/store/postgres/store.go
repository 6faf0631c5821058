// Package postgres implements store.Store on a single documents table. Every
// write commits a pg_notify on the collection name; subscriptions share one
// LISTEN connection and reload the full snapshot per notification.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/lumina-commerce/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const notifyChannel = "documents_changed"

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool

	mu         sync.Mutex
	subs       map[*subscription]struct{}
	stopListen context.CancelFunc
	listenDone chan struct{}
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool, subs: make(map[*subscription]struct{})}
}

// Migrate creates the documents and outbox tables. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, c store.Collection, id string, data []byte) (store.Document, error) {
	if id == "" {
		id = uuid.NewString()
	}
	doc := store.Document{ID: id, Data: data}

	err := s.inTx(ctx, c, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO documents (collection, id, version, data)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (collection, id) DO NOTHING
			RETURNING version, created_at`,
			string(c), id, data).Scan(&doc.Version, &doc.CreatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Document{}, store.ErrAlreadyExists
	}
	if err != nil {
		return store.Document{}, unavailable("insert", err)
	}
	return doc, nil
}

func (s *Store) Get(ctx context.Context, c store.Collection, id string) (store.Document, error) {
	var (
		doc  store.Document
		data []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, version, created_at, data FROM documents
		WHERE collection = $1 AND id = $2`, string(c), id).
		Scan(&doc.ID, &doc.Version, &doc.CreatedAt, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, unavailable("get", err)
	}
	doc.Data = data
	return doc, nil
}

func (s *Store) UpdateIf(ctx context.Context, c store.Collection, id string, version int64, data []byte) (store.Document, error) {
	doc := store.Document{ID: id, Data: data}

	err := s.inTx(ctx, c, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			UPDATE documents SET data = $4, version = version + 1, updated_at = clock_timestamp()
			WHERE collection = $1 AND id = $2 AND version = $3
			RETURNING version, created_at`,
			string(c), id, version, data).Scan(&doc.Version, &doc.CreatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`,
			string(c), id).Scan(&exists); err != nil {
			return store.Document{}, unavailable("update", err)
		}
		if !exists {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{}, store.ErrConflict
	}
	if err != nil {
		return store.Document{}, unavailable("update", err)
	}
	return doc, nil
}

func (s *Store) Delete(ctx context.Context, c store.Collection, id string) error {
	var affected int64
	err := s.inTx(ctx, c, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, string(c), id)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		if affected == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// inTx runs fn and the change notification in one transaction, so
// subscribers are woken exactly when the write becomes visible.
func (s *Store) inTx(ctx context.Context, c store.Collection, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(c)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadSnapshot(ctx context.Context, q querier, c store.Collection) ([]store.Document, error) {
	rows, err := q.Query(ctx, `
		SELECT id, version, created_at, data FROM documents
		WHERE collection = $1`, string(c))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var (
			doc  store.Document
			data []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Version, &doc.CreatedAt, &data); err != nil {
			return nil, err
		}
		doc.Data = data
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	store.SortDocuments(c, docs)
	return docs, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", store.ErrUnavailable, op, err)
}

const resubscribeDelay = time.Second
