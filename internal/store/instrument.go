package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var storeTracer = otel.Tracer("gestioncitas.internal.store")

// WriteObserver records the outcome of store writes.
type WriteObserver interface {
	ObserveWrite(op, collection, status string, seconds float64)
}

type instrumented struct {
	next     Store
	observer WriteObserver
}

// Instrument wraps s so every write is traced and reported to observer.
// A nil observer only traces.
func Instrument(s Store, observer WriteObserver) Store {
	return &instrumented{next: s, observer: observer}
}

func (i *instrumented) Subscribe(ctx context.Context, ns Namespace, c Collection, order []OrderBy) (*Subscription, error) {
	ctx, span := storeTracer.Start(ctx, "store.subscribe")
	defer span.End()
	span.SetAttributes(attribute.String("store.collection", string(c)))
	sub, err := i.next.Subscribe(ctx, ns, c, order)
	if err != nil {
		span.RecordError(err)
	}
	return sub, err
}

func (i *instrumented) Create(ctx context.Context, ns Namespace, c Collection, fields Fields) (string, error) {
	var id string
	err := i.observe(ctx, "create", c, "", func(ctx context.Context) error {
		var err error
		id, err = i.next.Create(ctx, ns, c, fields)
		return err
	})
	return id, err
}

func (i *instrumented) Update(ctx context.Context, ns Namespace, c Collection, id string, fields Fields) error {
	return i.observe(ctx, "update", c, id, func(ctx context.Context) error {
		return i.next.Update(ctx, ns, c, id, fields)
	})
}

func (i *instrumented) Upsert(ctx context.Context, ns Namespace, c Collection, id string, fields Fields) error {
	return i.observe(ctx, "upsert", c, id, func(ctx context.Context) error {
		return i.next.Upsert(ctx, ns, c, id, fields)
	})
}

func (i *instrumented) Delete(ctx context.Context, ns Namespace, c Collection, id string) error {
	return i.observe(ctx, "delete", c, id, func(ctx context.Context) error {
		return i.next.Delete(ctx, ns, c, id)
	})
}

func (i *instrumented) observe(ctx context.Context, op string, c Collection, id string, fn func(context.Context) error) error {
	ctx, span := storeTracer.Start(ctx, "store."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("store.collection", string(c)),
		attribute.String("store.document_id", id),
	)

	start := time.Now()
	err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
	}
	if i.observer != nil {
		i.observer.ObserveWrite(op, string(c), status, time.Since(start).Seconds())
	}
	return err
}
