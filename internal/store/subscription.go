package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Subscription delivers full-collection snapshots until closed. Delivery
// coalesces: when the consumer falls behind only the newest snapshot is kept.
type Subscription struct {
	emitter *Emitter
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	lastErr atomic.Value
}

// Snapshots returns the delivery channel. It is closed after Close.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.emitter.ch
}

// Close stops delivery and waits for the producer to exit. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.emitter.Stop()
	})
}

// Err returns the last error the producer hit while re-reading the
// collection, or nil.
func (s *Subscription) Err() error {
	if v, ok := s.lastErr.Load().(errBox); ok {
		return v.err
	}
	return nil
}

type errBox struct{ err error }

// Emitter is the producing side of a Subscription.
type Emitter struct {
	mu      sync.Mutex
	ch      chan Snapshot
	stopped bool
}

// Emit hands snap to the consumer, replacing any snapshot still pending.
// It never blocks and reports false once the emitter is stopped.
func (e *Emitter) Emit(snap Snapshot) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	select {
	case e.ch <- snap:
		return true
	default:
	}
	select {
	case <-e.ch:
	default:
	}
	e.ch <- snap
	return true
}

// Stop closes the delivery channel.
func (e *Emitter) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.stopped {
		e.stopped = true
		close(e.ch)
	}
}

// NewSubscription returns a subscription fed only by the returned emitter.
// Useful for injecting synthetic snapshots.
func NewSubscription() (*Subscription, *Emitter) {
	done := make(chan struct{})
	close(done)
	return newSubscription(func() {}, done)
}

func newSubscription(cancel context.CancelFunc, done chan struct{}) (*Subscription, *Emitter) {
	em := &Emitter{ch: make(chan Snapshot, 1)}
	return &Subscription{emitter: em, cancel: cancel, done: done}, em
}

type queryFunc func(ctx context.Context) ([]Document, error)

// watch registers on the feed before the first read so that no change between
// the initial snapshot and the first notification is lost.
func watch(ctx context.Context, feed ChangeFeed, key string, c Collection, query queryFunc, clock func() time.Time) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	changes, err := feed.Watch(ctx, key)
	if err != nil {
		cancel()
		return nil, err
	}

	docs, err := query(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	sub, em := newSubscription(cancel, done)
	em.Emit(Snapshot{Collection: c, Docs: docs, At: clock()})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				docs, err := query(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					sub.lastErr.Store(errBox{err})
					continue
				}
				em.Emit(Snapshot{Collection: c, Docs: docs, At: clock()})
			}
		}
	}()

	return sub, nil
}
