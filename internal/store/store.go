// Package store is the remote collection store the workspace mirrors: a
// document database keyed per principal namespace and collection, with live
// full-collection subscriptions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Collection names a logical collection inside a principal's namespace.
type Collection string

const (
	Patients     Collection = "patients"
	Appointments Collection = "appointments"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrInvalidNamespace = errors.New("invalid namespace")
	ErrInvalidOrder     = errors.New("invalid order field")
	ErrClosed           = errors.New("store closed")
)

var principalIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Namespace scopes every collection to a single principal.
type Namespace struct {
	PrincipalID string
}

// Path returns the slash path users/{principalId}/{collection}.
func (ns Namespace) Path(c Collection) string {
	return fmt.Sprintf("users/%s/%s", ns.PrincipalID, c)
}

// Validate rejects principal ids that cannot be used as a namespace key.
func (ns Namespace) Validate() error {
	if !principalIDPattern.MatchString(ns.PrincipalID) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns.PrincipalID)
	}
	return nil
}

// OrderBy is one key of a subscription's sort order.
type OrderBy struct {
	Field string
	Desc  bool
}

var orderFieldPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func validateOrder(order []OrderBy) error {
	for _, o := range order {
		if !orderFieldPattern.MatchString(o.Field) {
			return fmt.Errorf("%w: %q", ErrInvalidOrder, o.Field)
		}
	}
	return nil
}

// Fields holds the top-level fields of a document write.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store clock when a write is applied.
var ServerTimestamp any = serverTimestamp{}

// TimestampLayout is fixed-width so lexical order matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTimestamp renders t the way stores persist server timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// resolve returns a copy of f with every ServerTimestamp replaced by now.
func (f Fields) resolve(now time.Time) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = FormatTimestamp(now)
			continue
		}
		out[k] = v
	}
	return out
}

// Document is one stored record. Data never contains the id.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document into v and then sets its "id" field, so the
// identifier always wins over any stray id inside the data.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	idOnly, _ := json.Marshal(map[string]string{"id": d.ID})
	return json.Unmarshal(idOnly, v)
}

// Snapshot is a complete, ordered view of one collection.
type Snapshot struct {
	Collection Collection
	Docs       []Document
	At         time.Time
}

// Store is the remote collection store contract.
type Store interface {
	Subscribe(ctx context.Context, ns Namespace, c Collection, order []OrderBy) (*Subscription, error)
	Create(ctx context.Context, ns Namespace, c Collection, fields Fields) (string, error)
	Update(ctx context.Context, ns Namespace, c Collection, id string, fields Fields) error
	Upsert(ctx context.Context, ns Namespace, c Collection, id string, fields Fields) error
	Delete(ctx context.Context, ns Namespace, c Collection, id string) error
}

// WriteError reports a rejected create, update, upsert or delete.
type WriteError struct {
	Op         string
	Collection Collection
	ID         string
	Err        error
}

func (e *WriteError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func writeErr(op string, c Collection, id string, err error) error {
	if err == nil {
		return nil
	}
	var we *WriteError
	if errors.As(err, &we) {
		return err
	}
	return &WriteError{Op: op, Collection: c, ID: id, Err: err}
}

func feedKey(ns Namespace, c Collection) string {
	return ns.Path(c)
}
