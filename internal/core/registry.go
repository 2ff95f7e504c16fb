package core

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ViewRegistry owns the open views, at most one per session.
//
// Views idle for longer than the idle timeout, or pushed out when more than
// maxViews are open, are closed automatically. Any access through Open or
// Touch counts as activity.
type ViewRegistry struct {
	mu      sync.Mutex
	views   *expirable.LRU[string, *View]
	newView func(sessionID string) *View
}

// NewViewRegistry creates a registry. factory builds unloaded views.
func NewViewRegistry(maxViews int, idle time.Duration, factory func(sessionID string) *View) *ViewRegistry {
	if maxViews <= 0 {
		maxViews = 256
	}
	onEvict := func(sessionID string, v *View) {
		// Eviction runs under the cache lock; Close waits for the poller.
		go v.Close()
	}
	return &ViewRegistry{
		views:   expirable.NewLRU[string, *View](maxViews, onEvict, idle),
		newView: factory,
	}
}

// Open returns the view for sessionID, creating and loading it if needed.
func (r *ViewRegistry) Open(ctx context.Context, sessionID string) (*View, error) {
	r.mu.Lock()
	v, ok := r.views.Get(sessionID)
	if !ok || v.Closed() {
		v = r.newView(sessionID)
		slog.Debug("view opened", "session_id", sessionID, "view_id", v.ID())
	}
	r.views.Add(sessionID, v)
	r.mu.Unlock()

	if err := v.ensureLoaded(ctx); err != nil {
		r.remove(sessionID, v)
		return nil, err
	}
	return v, nil
}

// Get returns an open view without creating one.
func (r *ViewRegistry) Get(sessionID string) (*View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views.Get(sessionID)
	if !ok || v.Closed() {
		return nil, false
	}
	r.views.Add(sessionID, v)
	return v, true
}

// Touch marks the view for sessionID as active.
func (r *ViewRegistry) Touch(sessionID string) {
	r.Get(sessionID)
}

// Close tears down the view for sessionID, if any, and waits for its poller.
func (r *ViewRegistry) Close(sessionID string) bool {
	r.mu.Lock()
	v, ok := r.views.Peek(sessionID)
	if ok {
		r.views.Remove(sessionID)
	}
	r.mu.Unlock()

	if ok {
		v.Close()
	}
	return ok
}

// CloseAll tears down every view and waits for their pollers.
func (r *ViewRegistry) CloseAll() {
	r.mu.Lock()
	views := r.views.Values()
	r.views.Purge()
	r.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}

// Len returns the number of open views.
func (r *ViewRegistry) Len() int {
	return r.views.Len()
}

// SessionIDs returns the sessions with open views, sorted.
func (r *ViewRegistry) SessionIDs() []string {
	ids := r.views.Keys()
	sort.Strings(ids)
	return ids
}

// remove drops v only if it is still the registered view for sessionID.
func (r *ViewRegistry) remove(sessionID string, v *View) {
	r.mu.Lock()
	current, ok := r.views.Peek(sessionID)
	if ok && current == v {
		r.views.Remove(sessionID)
	}
	r.mu.Unlock()
	v.Close()
}
