// Package singleflight wraps golang.org/x/sync/singleflight with the
// broadcast-to-followers semantics the daemon needs: every caller blocked
// behind an in-flight key gets the leader's result as soon as it lands,
// rather than the synchronous call/forget shape the upstream Group alone
// provides.
package singleflight

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Result is what every follower of a coordinated call receives.
type Result struct {
	Value interface{}
	Err   error
}

// Coordinator deduplicates concurrent calls sharing the same key: the
// first caller (the leader) runs fn; every other caller sharing the key
// while the leader is in flight (a follower) waits on a broadcast channel
// instead of invoking fn itself.
type Coordinator struct {
	group singleflight.Group
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Do runs fn for key if no call for key is in flight, otherwise waits for
// the in-flight call's result. shared reports whether the result was handed
// to more than one caller; the leader also sees true when followers joined.
func (c *Coordinator) Do(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error, bool) {
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return fn(ctx)
	})
	return v, err, shared
}

// DoChan is like Do but returns a channel the caller can select on
// alongside ctx.Done(), giving followers a way to honor their own
// cancellation even though the leader's call keeps running.
func (c *Coordinator) DoChan(key string, fn func() (interface{}, error)) <-chan Result {
	out := make(chan Result, 1)
	ch := c.group.DoChan(key, fn)
	go func() {
		r := <-ch
		out <- Result{Value: r.Val, Err: r.Err}
		close(out)
	}()
	return out
}

// Forget tells the Coordinator to treat the next call for key as a new
// leader, used after a cache invalidation so a stale in-flight result
// can't be handed to callers that arrive after the invalidation.
func (c *Coordinator) Forget(key string) {
	c.group.Forget(key)
}

// CallCoordinator deduplicates calls returning an arbitrary Go value.
type CallCoordinator = Coordinator

// JSONCoordinator deduplicates calls whose result is marshaled to JSON
// before being handed to followers, so a follower can't mutate the
// leader's in-memory result out from under other followers.
type JSONCoordinator struct {
	inner *Coordinator
}

// NewJSONCoordinator creates an empty JSONCoordinator.
func NewJSONCoordinator() *JSONCoordinator {
	return &JSONCoordinator{inner: NewCoordinator()}
}

// Do runs fn, marshals its result to JSON once, and hands every caller
// (leader and followers alike) a freshly unmarshaled copy via out.
func (j *JSONCoordinator) Do(ctx context.Context, key string, out interface{}, fn func(ctx context.Context) (interface{}, error)) error {
	v, err, _ := j.inner.Do(ctx, key, fn)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Forget forwards to the inner Coordinator.
func (j *JSONCoordinator) Forget(key string) {
	j.inner.Forget(key)
}

// WorkspaceInitCoordinator deduplicates workspace-initialization calls
// specifically: the spec requires subscribe-after-check-absent semantics
// (a caller checks the cache, finds nothing, then must subscribe to any
// init already in flight rather than starting a second one) with lagged
// receivers retrying once instead of erroring when they miss the
// broadcast.
type WorkspaceInitCoordinator struct {
	mu      sync.Mutex
	waiters map[string][]chan Result
	inFlight map[string]bool
}

// NewWorkspaceInitCoordinator creates an empty WorkspaceInitCoordinator.
func NewWorkspaceInitCoordinator() *WorkspaceInitCoordinator {
	return &WorkspaceInitCoordinator{
		waiters:  make(map[string][]chan Result),
		inFlight: make(map[string]bool),
	}
}

// Init runs fn to initialize workspaceID if nothing is in flight for it;
// otherwise it subscribes to the in-flight call's broadcast. A follower
// that subscribes after the broadcast already fired (lagged) retries once
// by re-entering Init, since by then inFlight will be false and it can
// either reuse the now-complete result path or become the new leader.
func (w *WorkspaceInitCoordinator) Init(ctx context.Context, workspaceID string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	w.mu.Lock()
	if w.inFlight[workspaceID] {
		ch := make(chan Result, 1)
		w.waiters[workspaceID] = append(w.waiters[workspaceID], ch)
		w.mu.Unlock()

		select {
		case r, ok := <-ch:
			if !ok {
				// Lagged: broadcast closed before we received — the
				// leader finished between our check and our subscribe.
				// Retry once as a fresh call.
				return w.Init(ctx, workspaceID, fn)
			}
			return r.Value, r.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w.inFlight[workspaceID] = true
	w.mu.Unlock()

	value, err := fn(ctx)

	w.mu.Lock()
	waiters := w.waiters[workspaceID]
	delete(w.waiters, workspaceID)
	delete(w.inFlight, workspaceID)
	w.mu.Unlock()

	for _, ch := range waiters {
		ch <- Result{Value: value, Err: err}
		close(ch)
	}

	return value, err
}
