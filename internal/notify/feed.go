// Package notify keeps the unread notification count of every logged in session.
package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rooby-r/sygla-h2o-sub001/internal/auth"
	"github.com/rooby-r/sygla-h2o-sub001/internal/platform/httpx"
	"github.com/rooby-r/sygla-h2o-sub001/internal/shared"
)

// Counter reads the unread count of the user behind tokens.
type Counter interface {
	UnreadCount(ctx context.Context, tokens auth.Tokens) (int, error)
}

// Feed caches unread counts per browser session.
type Feed struct {
	source   Counter
	interval time.Duration

	mu     sync.RWMutex
	counts map[string]int
}

// NewFeed constructs a Feed polling source every interval.
func NewFeed(source Counter, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Feed{source: source, interval: interval, counts: make(map[string]int)}
}

// Companion returns the session task that keeps the count fresh. It runs for every
// authenticated user and forgets the count when it stops.
func (f *Feed) Companion() auth.Companion {
	return auth.Companion{
		Name:      "notifications",
		Interval:  f.interval,
		Immediate: true,
		Run:       f.refresh,
		Release: func(store *auth.Store) {
			f.forget(store.ID())
		},
	}
}

// Unread returns the last known count of sessionID.
func (f *Feed) Unread(sessionID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.counts[sessionID]
}

// ServeCount answers GET /notifications/count with the session's cached count.
func (f *Feed) ServeCount(w http.ResponseWriter, r *http.Request) {
	store := auth.StoreFromContext(r.Context())
	if store == nil || !store.Snapshot().Authenticated() {
		httpx.RespondError(w, shared.ErrNotAuthenticated)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"count": f.Unread(store.ID())})
}

func (f *Feed) refresh(ctx context.Context, store *auth.Store) error {
	count, err := f.source.UnreadCount(ctx, store)
	if err != nil {
		store.ExpireOn(ctx, err)
		return err
	}
	f.mu.Lock()
	f.counts[store.ID()] = count
	f.mu.Unlock()
	return nil
}

func (f *Feed) forget(sessionID string) {
	f.mu.Lock()
	delete(f.counts, sessionID)
	f.mu.Unlock()
}
