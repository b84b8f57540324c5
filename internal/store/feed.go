package store

import (
	"context"
	"sync"
)

// ChangeFeed signals that a collection changed. Signals carry no payload;
// subscribers re-read the collection, so lost or merged signals are harmless
// as long as one arrives after the last write.
type ChangeFeed interface {
	Notify(ctx context.Context, key string) error
	Watch(ctx context.Context, key string) (<-chan struct{}, error)
}

// LocalFeed is an in-process ChangeFeed.
type LocalFeed struct {
	mu       sync.Mutex
	watchers map[string]map[chan struct{}]struct{}
}

// NewLocalFeed returns an empty in-process feed.
func NewLocalFeed() *LocalFeed {
	return &LocalFeed{watchers: make(map[string]map[chan struct{}]struct{})}
}

// Notify wakes every watcher of key without blocking.
func (f *LocalFeed) Notify(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.watchers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Watch returns a channel signalled on every Notify for key. The channel is
// closed once ctx is done.
func (f *LocalFeed) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	if f.watchers[key] == nil {
		f.watchers[key] = make(map[chan struct{}]struct{})
	}
	f.watchers[key][ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.watchers[key], ch)
		if len(f.watchers[key]) == 0 {
			delete(f.watchers, key)
		}
		close(ch)
		f.mu.Unlock()
	}()

	return ch, nil
}

// watcherCount is used by tests.
func (f *LocalFeed) watcherCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers[key])
}
