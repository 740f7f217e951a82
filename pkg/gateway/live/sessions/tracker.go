// Package sessions tracks the live relays in this process so shutdown can
// warn, wait for, and finally cancel them. It is the only cross-session
// structure in the bridge.
package sessions

import (
	"context"
	"sync"
)

// Handle is what a running relay exposes to the tracker: a hard cancel and a
// best-effort drain warning.
type Handle struct {
	Cancel func()
	Warn   func(message string) error
}

type Tracker struct {
	mu     sync.Mutex
	relays map[string]*tracked
	wg     sync.WaitGroup
}

type tracked struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{relays: make(map[string]*tracked)}
}

// Register adds a session's relay and returns its unregister func, which is
// idempotent. Re-registering a session id supersedes (and releases) the old
// entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &tracked{handle: h}

	t.mu.Lock()
	old := t.relays[sessionID]
	t.relays[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.release(sessionID, old)
	}
	return func() { t.release(sessionID, entry) }
}

func (t *Tracker) release(sessionID string, entry *tracked) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.relays[sessionID] == entry {
			delete(t.relays, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.relays)
}

// WarnAll sends a drain notice to every live session. Failures are ignored;
// the warning is advisory.
func (t *Tracker) WarnAll(message string) (sent int) {
	if t == nil {
		return 0
	}
	var warns []func(string) error
	t.mu.Lock()
	for _, entry := range t.relays {
		if entry.handle.Warn != nil {
			warns = append(warns, entry.handle.Warn)
		}
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(message)
		sent++
	}
	return sent
}

// CancelAll hard-cancels every live relay. Used when the drain grace period
// runs out.
func (t *Tracker) CancelAll() (cancelled int) {
	if t == nil {
		return 0
	}
	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.relays {
		if entry.handle.Cancel != nil {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		cancelled++
	}
	return cancelled
}

// Wait blocks until every registered relay unregisters or the context ends.
// Returns false on timeout, in which case the caller escalates to CancelAll.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
