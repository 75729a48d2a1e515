package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rooby-r/sygla-h2o-sub001/internal/poll"
)

// Companion is session-scoped background work. It runs while its store is
// authenticated and Applies accepts the user, and is stopped otherwise.
type Companion struct {
	Name      string
	Interval  time.Duration
	Immediate bool
	// Applies restricts the companion to some users. Nil means every user.
	Applies func(User) bool
	Run     func(ctx context.Context, store *Store) error
	// Release is called after the companion stopped for store.
	Release func(store *Store)
}

// AccessWatcher polls the access window of non-admin sessions.
func AccessWatcher(interval time.Duration) Companion {
	return Companion{
		Name:     "access-window",
		Interval: interval,
		Applies:  func(u User) bool { return !u.IsAdmin() },
		Run: func(ctx context.Context, store *Store) error {
			_, err := store.CheckAccess(ctx)
			return err
		},
	}
}

// RegistryConfig groups Registry dependencies.
type RegistryConfig struct {
	Backend Backend
	// Storage builds the persistence of one browser session.
	Storage       func(sessionID string) Storage
	Logger        *slog.Logger
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Companions    []Companion
	Recorder      poll.Recorder
}

// Registry owns one Store per browser session. Stores are created on first use,
// rehydrated from storage, and evicted after IdleTTL without requests.
type Registry struct {
	cfg     RegistryConfig
	sweeper *poll.Task
	now     func() time.Time

	mu      sync.Mutex
	base    context.Context
	entries map[string]*entry
	closed  bool
}

type entry struct {
	store       *Store
	unsubscribe func()
	lastSeen    time.Time

	mu     sync.Mutex
	tasks  []companionTask
	closed bool
}

type companionTask struct {
	companion Companion
	task      *poll.Task
}

// NewRegistry constructs a Registry. Call Start to enable idle eviction.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	r := &Registry{
		cfg:     cfg,
		now:     time.Now,
		base:    context.Background(),
		entries: make(map[string]*entry),
	}
	r.sweeper = poll.New("session-sweep", cfg.SweepInterval, func(context.Context) error {
		r.Sweep()
		return nil
	}, poll.Options{Logger: cfg.Logger, Recorder: cfg.Recorder})
	return r
}

// Start binds companion tasks to ctx and starts the idle sweeper.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()
	r.sweeper.Start(ctx)
}

// Store returns the store of sessionID, creating and initializing it on first use.
func (r *Registry) Store(ctx context.Context, sessionID string) (*Store, error) {
	r.mu.Lock()
	if e, ok := r.entries[sessionID]; ok {
		e.lastSeen = r.now()
		r.mu.Unlock()
		return e.store, nil
	}
	e := r.newEntry(sessionID)
	if r.closed {
		e.closed = true
	} else {
		r.entries[sessionID] = e
	}
	r.mu.Unlock()

	if err := e.store.Initialize(ctx); err != nil {
		r.evictEntry(sessionID, e)
		return e.store, err
	}
	return e.store, nil
}

func (r *Registry) newEntry(sessionID string) *entry {
	store := NewStore(sessionID, r.cfg.Backend, r.cfg.Storage(sessionID), r.cfg.Logger)
	e := &entry{store: store, lastSeen: r.now()}
	logger := r.cfg.Logger.With(slog.String("session", sessionID))
	for _, c := range r.cfg.Companions {
		c := c
		task := poll.New(c.Name, c.Interval, func(ctx context.Context) error {
			return c.Run(ctx, store)
		}, poll.Options{Immediate: c.Immediate, Logger: logger, Recorder: r.cfg.Recorder})
		e.tasks = append(e.tasks, companionTask{companion: c, task: task})
	}
	// Stopping a task waits for its run, and a run may be what changed the state,
	// so companions are reconciled off the notifying goroutine.
	e.unsubscribe = store.Subscribe(func(Snapshot) {
		go r.reconcile(e)
	})
	return e
}

// Len reports the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts stores idle for longer than IdleTTL.
func (r *Registry) Sweep() {
	cutoff := r.now().Add(-r.cfg.IdleTTL)
	r.mu.Lock()
	var idle []*entry
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()
	for _, e := range idle {
		r.release(e)
	}
	if len(idle) > 0 {
		r.cfg.Logger.Debug("evicted idle sessions", slog.Int("count", len(idle)))
	}
}

// evictEntry drops e while it is still the entry of sessionID and stops its
// companions. The next request for the session rehydrates it from storage.
func (r *Registry) evictEntry(sessionID string, e *entry) {
	r.mu.Lock()
	owned := r.entries[sessionID] == e
	if owned {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()
	if owned {
		r.release(e)
	}
}

// Close stops the sweeper and every companion, then waits for in-flight
// revalidations.
func (r *Registry) Close() {
	r.sweeper.Stop()
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.entries))
	for id, e := range r.entries {
		entries = append(entries, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()
	for _, e := range entries {
		r.release(e)
		e.store.Wait()
	}
}

func (r *Registry) reconcile(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	snap := e.store.Snapshot()
	for _, ct := range e.tasks {
		want := snap.Authenticated() && (ct.companion.Applies == nil || ct.companion.Applies(*snap.User))
		switch {
		case want && !ct.task.Running():
			ct.task.Start(r.baseContext())
		case !want && ct.task.Running():
			ct.task.Stop()
			if ct.companion.Release != nil {
				ct.companion.Release(e.store)
			}
		}
	}
}

func (r *Registry) release(e *entry) {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for _, ct := range e.tasks {
		if ct.task.Running() {
			ct.task.Stop()
			if ct.companion.Release != nil {
				ct.companion.Release(e.store)
			}
		}
	}
}

func (r *Registry) baseContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.base
}
