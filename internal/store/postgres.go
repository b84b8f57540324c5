package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the Postgres store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres stores every document as one JSONB row in the documents table.
// Live updates travel over the configured ChangeFeed.
type Postgres struct {
	db    DB
	feed  ChangeFeed
	clock func() time.Time
}

// NewPostgres creates a Postgres-backed store. A nil feed falls back to an
// in-process feed, which only reaches subscribers in the same process.
func NewPostgres(db DB, feed ChangeFeed) *Postgres {
	if feed == nil {
		feed = NewLocalFeed()
	}
	return &Postgres{db: db, feed: feed, clock: time.Now}
}

func (p *Postgres) Subscribe(ctx context.Context, ns Namespace, c Collection, order []OrderBy) (*Subscription, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	q := listQuery(order)
	return watch(ctx, p.feed, feedKey(ns, c), c, func(ctx context.Context) ([]Document, error) {
		return p.list(ctx, q, ns, c)
	}, p.clock)
}

func listQuery(order []OrderBy) string {
	var b strings.Builder
	b.WriteString(`SELECT id, data FROM documents WHERE principal_id = $1 AND collection = $2 ORDER BY `)
	for _, o := range order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, "NULLIF(data->'%s', 'null'::jsonb) %s NULLS LAST, ", o.Field, dir)
	}
	b.WriteString("id ASC")
	return b.String()
}

func (p *Postgres) list(ctx context.Context, q string, ns Namespace, c Collection) ([]Document, error) {
	rows, err := p.db.Query(ctx, q, ns.PrincipalID, string(c))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c, err)
		}
		docs = append(docs, Document{ID: id, Data: json.RawMessage(data)})
	}
	return docs, rows.Err()
}

func (p *Postgres) Create(ctx context.Context, ns Namespace, c Collection, fields Fields) (string, error) {
	if err := ns.Validate(); err != nil {
		return "", writeErr("create", c, "", err)
	}
	id := uuid.NewString()
	data, err := json.Marshal(fields.resolve(p.clock()))
	if err != nil {
		return "", writeErr("create", c, "", err)
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO documents (principal_id, collection, id, data) VALUES ($1, $2, $3, $4)`,
		ns.PrincipalID, string(c), id, string(data))
	if err != nil {
		return "", writeErr("create", c, id, err)
	}
	return id, writeErr("create", c, id, p.feed.Notify(ctx, feedKey(ns, c)))
}

func (p *Postgres) Update(ctx context.Context, ns Namespace, c Collection, id string, fields Fields) error {
	if err := ns.Validate(); err != nil {
		return writeErr("update", c, id, err)
	}
	data, err := json.Marshal(fields.resolve(p.clock()))
	if err != nil {
		return writeErr("update", c, id, err)
	}
	tag, err := p.db.Exec(ctx,
		`UPDATE documents SET data = data || $4::jsonb, updated_at = now()
		 WHERE principal_id = $1 AND collection = $2 AND id = $3`,
		ns.PrincipalID, string(c), id, string(data))
	if err != nil {
		return writeErr("update", c, id, err)
	}
	if tag.RowsAffected() == 0 {
		return writeErr("update", c, id, ErrNotFound)
	}
	return writeErr("update", c, id, p.feed.Notify(ctx, feedKey(ns, c)))
}

// Upsert creates or fully replaces the document stored under id.
func (p *Postgres) Upsert(ctx context.Context, ns Namespace, c Collection, id string, fields Fields) error {
	if err := ns.Validate(); err != nil {
		return writeErr("upsert", c, id, err)
	}
	if id == "" {
		return writeErr("upsert", c, id, fmt.Errorf("empty document id"))
	}
	data, err := json.Marshal(fields.resolve(p.clock()))
	if err != nil {
		return writeErr("upsert", c, id, err)
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO documents (principal_id, collection, id, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (principal_id, collection, id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		ns.PrincipalID, string(c), id, string(data))
	if err != nil {
		return writeErr("upsert", c, id, err)
	}
	return writeErr("upsert", c, id, p.feed.Notify(ctx, feedKey(ns, c)))
}

func (p *Postgres) Delete(ctx context.Context, ns Namespace, c Collection, id string) error {
	if err := ns.Validate(); err != nil {
		return writeErr("delete", c, id, err)
	}
	_, err := p.db.Exec(ctx,
		`DELETE FROM documents WHERE principal_id = $1 AND collection = $2 AND id = $3`,
		ns.PrincipalID, string(c), id)
	if err != nil {
		return writeErr("delete", c, id, err)
	}
	return writeErr("delete", c, id, p.feed.Notify(ctx, feedKey(ns, c)))
}
