package fakes

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/systmms/cosrepo/internal/clientcache"
)

// FakeHandle is a client handle that records shutdowns
type FakeHandle struct {
	Key         clientcache.Key
	ID          int
	ShutdownErr error

	shutdowns atomic.Int32
}

// Shutdown records the call and returns ShutdownErr
func (h *FakeHandle) Shutdown() error {
	h.shutdowns.Add(1)
	return h.ShutdownErr
}

// Shutdowns returns how many times Shutdown was called
func (h *FakeHandle) Shutdowns() int {
	return int(h.shutdowns.Load())
}

// CountingFactory builds FakeHandles and counts constructions per key
type CountingFactory struct {
	// Delay is slept inside every construction so concurrent callers overlap
	Delay time.Duration
	// Errors maps keys to construction errors; an entry is consumed by one call
	Errors map[clientcache.Key]error
	// ShutdownErr is given to every handle built
	ShutdownErr error

	mu      sync.Mutex
	calls   map[clientcache.Key]int
	handles []*FakeHandle
}

// NewCountingFactory creates a factory with no configured failures
func NewCountingFactory() *CountingFactory {
	return &CountingFactory{
		Errors: make(map[clientcache.Key]error),
		calls:  make(map[clientcache.Key]int),
	}
}

// Build implements clientcache.Factory
func (f *CountingFactory) Build(ctx context.Context, key clientcache.Key) (clientcache.Handle, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[key]++
	if err, ok := f.Errors[key]; ok {
		delete(f.Errors, key)
		return nil, err
	}

	h := &FakeHandle{Key: key, ID: len(f.handles) + 1, ShutdownErr: f.ShutdownErr}
	f.handles = append(f.handles, h)
	return h, nil
}

// FailNext makes the next construction for key fail with err
func (f *CountingFactory) FailNext(key clientcache.Key, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[key] = err
}

// Calls returns how many constructions were attempted for key
func (f *CountingFactory) Calls(key clientcache.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// Total returns how many constructions were attempted for any key
func (f *CountingFactory) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Handles returns every handle built so far, in construction order
func (f *CountingFactory) Handles() []*FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeHandle(nil), f.handles...)
}
