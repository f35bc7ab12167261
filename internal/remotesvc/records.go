package remotesvc

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"

	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// errNoRecord is returned by Records when (kind, id) does not exist.
var errNoRecord = errors.New("no such record")

// Records stores remote entities in SQLite. Queries are built with goqu.
type Records struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	now     func() time.Time
}

// OpenRecords opens (or creates) the database at path and applies the
// schema. Use ":memory:" for tests.
func OpenRecords(path string) (*Records, error) {
	db, err := store.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply records schema: %w", err)
	}
	return &Records{
		db:      db,
		dialect: goqu.Dialect("sqlite3"),
		now:     time.Now,
	}, nil
}

// Close closes the database.
func (r *Records) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// List returns every record of kind in insertion order.
func (r *Records) List(ctx context.Context, kind entity.Kind) ([]entity.Payload, error) {
	q, _, err := r.dialect.From(goqu.T("records")).
		Select(goqu.C("body")).
		Where(goqu.C("kind").Eq(string(kind))).
		Order(goqu.C("seq").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("list %s: build query: %w", kind, err)
	}
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	out := make([]entity.Payload, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("list %s: scan: %w", kind, err)
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return out, nil
}

// Get returns the record (kind, id) or errNoRecord.
func (r *Records) Get(ctx context.Context, kind entity.Kind, id string) (entity.Payload, error) {
	q, _, err := r.dialect.From(goqu.T("records")).
		Select(goqu.C("body")).
		Where(goqu.C("kind").Eq(string(kind)), goqu.C("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("get %s %s: build query: %w", kind, id, err)
	}
	var body string
	if err := r.db.QueryRowContext(ctx, q).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNoRecord
		}
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return decodeRecord(body)
}

// Insert stores rec under (kind, id).
func (r *Records) Insert(ctx context.Context, kind entity.Kind, id string, rec entity.Payload) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("insert %s: marshal: %w", kind, err)
	}
	now := r.now().UnixMilli()
	q, _, err := r.dialect.Insert(goqu.T("records")).Rows(goqu.Record{
		"kind":       string(kind),
		"id":         id,
		"body":       string(body),
		"created_at": now,
		"updated_at": now,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("insert %s: build query: %w", kind, err)
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("insert %s %s: %w", kind, id, err)
	}
	return nil
}

// Update replaces the body of (kind, id). Returns errNoRecord when no row
// matched.
func (r *Records) Update(ctx context.Context, kind entity.Kind, id string, rec entity.Payload) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("update %s: marshal: %w", kind, err)
	}
	q, _, err := r.dialect.Update(goqu.T("records")).
		Set(goqu.Record{
			"body":       string(body),
			"updated_at": r.now().UnixMilli(),
		}).
		Where(goqu.C("kind").Eq(string(kind)), goqu.C("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("update %s: build query: %w", kind, err)
	}
	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errNoRecord
	}
	return nil
}

// Delete removes (kind, id). Deleting a missing record is not an error.
func (r *Records) Delete(ctx context.Context, kind entity.Kind, id string) error {
	q, _, err := r.dialect.Delete(goqu.T("records")).
		Where(goqu.C("kind").Eq(string(kind)), goqu.C("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("delete %s: build query: %w", kind, err)
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return nil
}

func decodeRecord(body string) (entity.Payload, error) {
	var rec entity.Payload
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
