// Package store is the SQLite reference backend. Every entity type lives in
// one generic table keyed by (type, id) with its fields as a JSON document;
// the registry decides what a valid document is.
//
// Store implements edit.Transport, so an edit controller can be pointed at it
// directly, and the HTTP handlers call it for every generic CRUD route.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/entitykit/internal/event"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("store: not found")

const ddl = `
CREATE TABLE IF NOT EXISTS entities (
	type       TEXT NOT NULL,
	id         TEXT NOT NULL,
	fields     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (type, id)
);
CREATE INDEX IF NOT EXISTS entities_type_created ON entities (type, created_at, id);
CREATE TABLE IF NOT EXISTS uploads (
	id           TEXT PRIMARY KEY,
	entity_type  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	field        TEXT NOT NULL,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size         INTEGER NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS uploads_entity ON uploads (entity_type, entity_id);
`

// Option configures a Store.
type Option func(*Store)

// WithPublisher sends Stored and Deleted changes to p.
func WithPublisher(p event.Publisher) Option {
	return func(s *Store) { s.events = p }
}

// WithLogger sets the store's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store persists entity instances described by a registry.
type Store struct {
	db     *sql.DB
	reg    *schema.Registry
	events event.Publisher
	log    *slog.Logger
	now    func() time.Time
}

// Open opens the SQLite database at dsn and migrates it.
func Open(ctx context.Context, dsn string, reg *schema.Registry, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases alive for the life of the store.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	s, err := New(ctx, db, reg, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle and migrates it.
func New(ctx context.Context, db *sql.DB, reg *schema.Registry, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		reg:    reg,
		events: event.Discard,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("running migration: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Registry returns the registry the store validates against.
func (s *Store) Registry() *schema.Registry { return s.reg }

// ListOptions controls List.
type ListOptions struct {
	Limit  int
	Offset int
	Query  string // substring matched against the type's searchable fields
}

// Count returns the number of stored records of a type.
func (s *Store) Count(ctx context.Context, t types.EntityType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE type = ?`, string(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", t, err)
	}
	return n, nil
}

// Get loads one record with its relations expanded into references.
func (s *Store) Get(ctx context.Context, t types.EntityType, id string) (*types.Instance, error) {
	es, err := s.lookup(t)
	if err != nil {
		return nil, err
	}
	fields, err := s.load(ctx, s.db, t, id)
	if err != nil {
		return nil, err
	}
	inst := &types.Instance{ID: id, Type: t, Fields: fields}
	s.expand(ctx, es, inst)
	return inst, nil
}

// List returns one page of records in creation order plus the total number
// of matches.
func (s *Store) List(ctx context.Context, t types.EntityType, opts ListOptions) ([]*types.Instance, int, error) {
	es, err := s.lookup(t)
	if err != nil {
		return nil, 0, err
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	where := "type = ?"
	args := []any{string(t)}
	if q := strings.TrimSpace(opts.Query); q != "" && len(es.Nav.Searchable) > 0 {
		var ors []string
		for _, name := range es.Nav.Searchable {
			ors = append(ors, "CAST(json_extract(fields, ?) AS TEXT) LIKE ?")
			args = append(args, "$."+name, "%"+q+"%")
		}
		where += " AND (" + strings.Join(ors, " OR ") + ")"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting %s: %w", t, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, fields FROM entities WHERE "+where+" ORDER BY created_at, id LIMIT ? OFFSET ?",
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing %s: %w", t, err)
	}
	defer rows.Close()

	var out []*types.Instance
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, 0, fmt.Errorf("scanning %s: %w", t, err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("decoding %s %s: %w", t, id, err)
		}
		out = append(out, &types.Instance{ID: id, Type: t, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing %s: %w", t, err)
	}
	rows.Close()

	for _, inst := range out {
		s.expand(ctx, es, inst)
	}
	return out, total, nil
}

// Create validates values against the schema and inserts a new record.
// Declared defaults fill missing fields. Validation failures are returned as
// *edit.ValidationError.
func (s *Store) Create(ctx context.Context, t types.EntityType, values map[string]any) (*types.Instance, error) {
	es, err := s.lookup(t)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	fields := make(map[string]any, len(es.Fields))
	for _, f := range es.Fields {
		if f.Default != nil {
			fields[f.Name] = f.Default
		}
	}
	merge(fields, values)
	stamp(es, fields, "created_at", now)
	stamp(es, fields, "updated_at", now)

	if err := s.normalize(ctx, tx, es, id, fields); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", t, err)
	}
	ts := now.Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entities (type, id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(t), id, string(raw), ts, ts); err != nil {
		return nil, fmt.Errorf("inserting %s: %w", t, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing %s: %w", t, err)
	}

	s.publish(ctx, event.Stored, t, id, "created")
	return s.Get(ctx, t, id)
}

// Update merges values into an existing record and validates the result.
func (s *Store) Update(ctx context.Context, t types.EntityType, id string, values map[string]any) (*types.Instance, error) {
	es, err := s.lookup(t)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	fields, err := s.load(ctx, tx, t, id)
	if err != nil {
		return nil, err
	}
	merge(fields, values)
	if _, ok := es.Field("updated_at"); ok {
		fields["updated_at"] = now.Format(time.RFC3339)
	}

	if err := s.normalize(ctx, tx, es, id, fields); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", t, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET fields = ?, updated_at = ? WHERE type = ? AND id = ?`,
		string(raw), now.Format(time.RFC3339Nano), string(t), id); err != nil {
		return nil, fmt.Errorf("updating %s %s: %w", t, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing %s: %w", t, err)
	}

	s.publish(ctx, event.Stored, t, id, "updated")
	return s.Get(ctx, t, id)
}

// Delete removes a record and its upload metadata.
func (s *Store) Delete(ctx context.Context, t types.EntityType, id string) error {
	if _, err := s.lookup(t); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE type = ? AND id = ?`, string(t), id)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", t, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, t, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE entity_type = ? AND entity_id = ?`, string(t), id); err != nil {
		return fmt.Errorf("deleting uploads of %s %s: %w", t, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.publish(ctx, event.Deleted, t, id, "")
	return nil
}

// UploadInfo is the recorded metadata of one upload.
type UploadInfo struct {
	ID          string `json:"id"`
	Field       string `json:"field"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Uploads lists the upload metadata recorded for a record.
func (s *Store) Uploads(ctx context.Context, t types.EntityType, id string) ([]UploadInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, field, filename, content_type, size FROM uploads WHERE entity_type = ? AND entity_id = ? ORDER BY created_at, id`,
		string(t), id)
	if err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}
	defer rows.Close()
	var out []UploadInfo
	for rows.Next() {
		var u UploadInfo
		if err := rows.Scan(&u.ID, &u.Field, &u.Filename, &u.ContentType, &u.Size); err != nil {
			return nil, fmt.Errorf("scanning upload: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ── internals ───────────────────────────────────────────────────────────

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) lookup(t types.EntityType) (*schema.EntitySchema, error) {
	es, ok := s.reg.Lookup(t)
	if !ok {
		return nil, &schema.UnknownTypeError{Type: t}
	}
	return es, nil
}

func (s *Store) load(ctx context.Context, q querier, t types.EntityType, id string) (map[string]any, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT fields FROM entities WHERE type = ? AND id = ?`, string(t), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, t, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s %s: %w", t, id, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", t, id, err)
	}
	return fields, nil
}

func (s *Store) exists(ctx context.Context, q querier, t types.EntityType, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE type = ? AND id = ?`, string(t), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s %s: %w", t, id, err)
	}
	return true, nil
}

func (s *Store) publish(ctx context.Context, kind event.Kind, t types.EntityType, id, summary string) {
	ch := event.New(kind, t, id)
	ch.Summary = summary
	s.events.Publish(ctx, ch)
}

func decodeFields(raw string) (map[string]any, error) {
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// merge copies values into fields, ignoring the envelope keys.
func merge(fields, values map[string]any) {
	for k, v := range values {
		if k == "id" || k == "type" {
			continue
		}
		fields[k] = v
	}
}

// stamp sets a declared timestamp field that has no value yet.
func stamp(es *schema.EntitySchema, fields map[string]any, name string, now time.Time) {
	if _, ok := es.Field(name); !ok {
		return
	}
	if v, ok := fields[name]; ok && !schema.IsEmpty(v) {
		return
	}
	fields[name] = now.Format(time.RFC3339)
}
