package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore keeps every collection in one JSONB documents table (see
// migrations/001_create_documents.sql).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate executes a schema script, typically 001_create_documents.sql.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

func (p *PostgresStore) List(ctx context.Context, collection string) ([]models.Document, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, data, version FROM documents WHERE collection=$1 ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()
	var out []models.Document
	for rows.Next() {
		var (
			doc models.Document
			raw []byte
		)
		if err := rows.Scan(&doc.ID, &raw, &doc.Version); err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		if doc.Fields, err = decodeFields(raw); err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", collection, doc.ID, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Get(ctx context.Context, collection, id string) (models.Document, error) {
	doc := models.Document{ID: id}
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT data, version FROM documents WHERE collection=$1 AND id=$2`, collection, id).Scan(&raw, &doc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, ErrNotFound
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if doc.Fields, err = decodeFields(raw); err != nil {
		return models.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (p *PostgresStore) Create(ctx context.Context, collection, id string, fields models.Fields) error {
	return p.apply(ctx, Write{Op: OpCreate, Collection: collection, ID: id, Fields: fields})
}

func (p *PostgresStore) Set(ctx context.Context, collection, id string, fields models.Fields) error {
	return p.apply(ctx, Write{Op: OpSet, Collection: collection, ID: id, Fields: fields})
}

func (p *PostgresStore) SetMerge(ctx context.Context, collection, id string, fields models.Fields) error {
	return p.apply(ctx, Write{Op: OpSetMerge, Collection: collection, ID: id, Fields: fields})
}

func (p *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	return p.apply(ctx, Write{Op: OpDelete, Collection: collection, ID: id})
}

func (p *PostgresStore) Batch(ctx context.Context, writes []Write) []error {
	return applySequential(ctx, writes, p.apply)
}

func (p *PostgresStore) apply(ctx context.Context, w Write) error {
	var (
		res sql.Result
		err error
	)
	fields := w.Fields
	if fields == nil {
		fields = models.Fields{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%s %s/%s: encode: %w", w.Op, w.Collection, w.ID, err)
	}
	switch {
	case w.Op == OpCreate:
		res, err = p.db.ExecContext(ctx, `INSERT INTO documents(collection, id, data, version, updated_at) VALUES($1,$2,$3,1,now()) ON CONFLICT (collection, id) DO NOTHING`,
			w.Collection, w.ID, data)
		if err == nil && affected(res) == 0 {
			return ErrAlreadyExists
		}
	case w.Op == OpSet && w.IfVersion != 0:
		res, err = p.db.ExecContext(ctx, `UPDATE documents SET data=$3, version=version+1, updated_at=now() WHERE collection=$1 AND id=$2 AND version=$4`,
			w.Collection, w.ID, data, w.IfVersion)
		if err == nil && affected(res) == 0 {
			return ErrPreconditionFailed
		}
	case w.Op == OpSet:
		_, err = p.db.ExecContext(ctx, `INSERT INTO documents(collection, id, data, version, updated_at) VALUES($1,$2,$3,1,now())
ON CONFLICT (collection, id) DO UPDATE SET data=EXCLUDED.data, version=documents.version+1, updated_at=now()`,
			w.Collection, w.ID, data)
	case w.Op == OpSetMerge:
		_, err = p.db.ExecContext(ctx, `INSERT INTO documents(collection, id, data, version, updated_at) VALUES($1,$2,$3,1,now())
ON CONFLICT (collection, id) DO UPDATE SET data=documents.data || EXCLUDED.data, version=documents.version+1, updated_at=now()`,
			w.Collection, w.ID, data)
	case w.Op == OpDelete && w.IfVersion != 0:
		res, err = p.db.ExecContext(ctx, `DELETE FROM documents WHERE collection=$1 AND id=$2 AND version=$3`, w.Collection, w.ID, w.IfVersion)
		if err == nil && affected(res) == 0 {
			return ErrPreconditionFailed
		}
	case w.Op == OpDelete:
		_, err = p.db.ExecContext(ctx, `DELETE FROM documents WHERE collection=$1 AND id=$2`, w.Collection, w.ID)
	default:
		return fmt.Errorf("unsupported op %d", w.Op)
	}
	if err != nil {
		return fmt.Errorf("%s %s/%s: %w", w.Op, w.Collection, w.ID, err)
	}
	return nil
}

func affected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func decodeFields(raw []byte) (models.Fields, error) {
	f := models.Fields{}
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return f, nil
}
