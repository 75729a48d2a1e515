package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rooby-r/sygla-h2o-sub001/internal/shared"
)

const (
	loginFallbackReason  = "Login failed"
	accessDeniedNotice   = "Access is not allowed at this time."
	sessionExpiredNotice = "Your session has expired. Please sign in again."
)

// Store is the single writer of one browser session's authentication state and of
// its persisted form. Readers use Snapshot or Subscribe. Backend calls are never
// made while the store's lock is held.
type Store struct {
	id      string
	backend Backend
	storage Storage
	logger  *slog.Logger

	// RevalidateTimeout bounds the background profile check started by Initialize.
	RevalidateTimeout time.Duration

	mu           sync.Mutex
	state        State
	user         *User
	tokens       TokenPair
	mustChange   bool
	initializing bool
	initialized  bool
	reason       string
	notice       string
	// epoch changes whenever the session identity changes (login, logout, forced
	// clear). Async work started under an older epoch drops its result.
	epoch   uint64
	subs    map[uint64]func(Snapshot)
	nextSub uint64

	bg sync.WaitGroup
}

// NewStore constructs an idle Store for the session identified by id.
func NewStore(id string, backend Backend, storage Storage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		id:                id,
		backend:           backend,
		storage:           storage,
		logger:            logger,
		RevalidateTimeout: 10 * time.Second,
		subs:              make(map[uint64]func(Snapshot)),
	}
}

// ID returns the browser session id the store belongs to.
func (s *Store) ID() string {
	return s.id
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every state change. fn runs on
// the goroutine that made the change and must not block.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Initialize rehydrates the session from storage. A stored session is trusted
// optimistically and re-validated against the backend in the background. Calling
// Initialize again is a no-op.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized || s.initializing {
		s.mu.Unlock()
		return nil
	}
	s.initializing = true
	s.mu.Unlock()
	s.notify()

	persisted, err := s.storage.Load(ctx)

	s.mu.Lock()
	s.initializing = false
	s.initialized = true
	if err == nil && persisted != nil && persisted.User != nil && s.state == StateIdle {
		user := *persisted.User
		s.user = &user
		s.tokens = TokenPair{Access: persisted.AccessToken, Refresh: persisted.RefreshToken}
		s.mustChange = persisted.MustChangePassword
		s.state = StateAuthenticated
		epoch := s.epoch
		s.bg.Add(1)
		go s.revalidate(context.WithoutCancel(ctx), epoch)
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		return fmt.Errorf("auth: initialize: %w", err)
	}
	return nil
}

func (s *Store) revalidate(ctx context.Context, epoch uint64) {
	defer s.bg.Done()
	ctx, cancel := context.WithTimeout(ctx, s.RevalidateTimeout)
	defer cancel()

	user, err := s.backend.Profile(ctx, s)

	s.mu.Lock()
	if s.epoch != epoch || s.state != StateAuthenticated {
		s.mu.Unlock()
		return
	}
	switch {
	case err != nil && rejected(err):
		s.logger.Info("stored session rejected by backend", slog.String("session", s.id), slog.Any("error", err))
		s.epoch++
		s.clearLocked(ctx)
	case err != nil:
		s.logger.Warn("revalidate session", slog.String("session", s.id), slog.Any("error", err))
		s.mu.Unlock()
		return
	case user != nil:
		fresh := *user
		s.user = &fresh
		if perr := s.persistLocked(ctx); perr != nil {
			s.logger.Warn("persist revalidated user", slog.String("session", s.id), slog.Any("error", perr))
		}
	}
	s.mu.Unlock()
	s.notify()
}

// Login authenticates against the backend and persists the new session. It
// reports whether the backend requires a password change. When Logout runs while
// the backend call is in flight the login result is discarded, nothing is
// persisted and ErrLoginSuperseded is returned.
func (s *Store) Login(ctx context.Context, creds Credentials) (bool, error) {
	s.mu.Lock()
	s.state = StateLoggingIn
	s.reason = ""
	s.notice = ""
	epoch := s.epoch
	s.mu.Unlock()
	s.notify()

	res, err := s.backend.Login(ctx, creds)
	if err == nil && (res == nil || res.User == nil) {
		err = shared.ErrInvalidCredentials
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		if err == nil {
			s.invalidate(ctx, res.Tokens, "invalidate superseded login")
		}
		return false, shared.ErrLoginSuperseded
	}
	if err != nil {
		previous := s.endPreviousLocked(ctx)
		s.state = StateLoginFailed
		s.reason = FailureReason(err, loginFallbackReason)
		s.mu.Unlock()
		s.notify()
		s.invalidate(ctx, previous, "invalidate previous session")
		return false, fmt.Errorf("auth: login: %w", err)
	}

	user := *res.User
	persisted := Persisted{
		AccessToken:        res.Tokens.Access,
		RefreshToken:       res.Tokens.Refresh,
		User:               &user,
		MustChangePassword: res.MustChangePassword,
	}
	if err := s.storage.Save(ctx, persisted); err != nil {
		previous := s.endPreviousLocked(ctx)
		s.state = StateLoginFailed
		s.reason = loginFallbackReason
		s.mu.Unlock()
		s.notify()
		s.invalidate(ctx, previous, "invalidate previous session")
		s.invalidate(ctx, res.Tokens, "invalidate unsaved login")
		return false, fmt.Errorf("auth: login: persist: %w", err)
	}
	s.epoch++
	s.state = StateAuthenticated
	s.user = &user
	s.tokens = res.Tokens
	s.mustChange = res.MustChangePassword
	s.mu.Unlock()
	s.notify()
	return res.MustChangePassword, nil
}

// Logout always clears the persisted session and ends in StateLoggedOut. The
// backend is told afterwards on a best-effort basis.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	tokens := s.tokens
	s.epoch++
	err := s.clearLocked(ctx)
	s.notice = ""
	s.mu.Unlock()
	s.notify()

	if tokens.Access != "" || tokens.Refresh != "" {
		if lerr := s.backend.Logout(ctx, &tokens); lerr != nil {
			s.logger.Warn("backend logout", slog.String("session", s.id), slog.Any("error", lerr))
		}
	}
	return err
}

// UpdateUser merges patch into the authenticated user and persists the result.
func (s *Store) UpdateUser(ctx context.Context, patch UserPatch) (User, error) {
	s.mu.Lock()
	if s.state != StateAuthenticated || s.user == nil {
		s.mu.Unlock()
		return User{}, shared.ErrNotAuthenticated
	}
	merged := s.user.Merge(patch)
	previous := s.user
	s.user = &merged
	if err := s.persistLocked(ctx); err != nil {
		s.user = previous
		s.mu.Unlock()
		return User{}, err
	}
	s.mu.Unlock()
	s.notify()
	return merged, nil
}

// UpdateProfile sends patch to the backend and merges the user it returns.
func (s *Store) UpdateProfile(ctx context.Context, patch UserPatch) (User, error) {
	if !s.Snapshot().Authenticated() {
		return User{}, shared.ErrNotAuthenticated
	}
	updated, err := s.backend.UpdateProfile(ctx, s, patch)
	if err != nil {
		s.ExpireOn(ctx, err)
		return User{}, fmt.Errorf("auth: update profile: %w", err)
	}
	if updated == nil {
		return s.UpdateUser(ctx, patch)
	}
	return s.UpdateUser(ctx, PatchFrom(*updated))
}

// ChangePassword changes the password on the backend and lifts the forced
// password change flag.
func (s *Store) ChangePassword(ctx context.Context, change PasswordChange) error {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return shared.ErrNotAuthenticated
	}
	epoch := s.epoch
	s.mu.Unlock()

	if err := s.backend.ChangePassword(ctx, s, change); err != nil {
		s.ExpireOn(ctx, err)
		return fmt.Errorf("auth: change password: %w", err)
	}

	s.mu.Lock()
	if s.epoch != epoch || s.state != StateAuthenticated {
		s.mu.Unlock()
		return shared.ErrNotAuthenticated
	}
	s.mustChange = false
	err := s.persistLocked(ctx)
	s.mu.Unlock()
	s.notify()
	return err
}

// CheckAccess asks the backend whether the user's role is inside its access
// window. Admins and anonymous sessions are not checked. A negative verdict
// clears the session and keeps the server message as a notice.
func (s *Store) CheckAccess(ctx context.Context) (*AccessStatus, error) {
	s.mu.Lock()
	if s.state != StateAuthenticated || s.user == nil || s.user.IsAdmin() {
		s.mu.Unlock()
		return &AccessStatus{Allowed: true}, nil
	}
	epoch := s.epoch
	s.mu.Unlock()

	status, err := s.backend.CheckAccess(ctx, s)
	if err != nil {
		s.ExpireOn(ctx, err)
		return nil, fmt.Errorf("auth: check access: %w", err)
	}
	if status == nil || status.Allowed {
		return &AccessStatus{Allowed: true}, nil
	}

	notice := status.Message
	if notice == "" {
		notice = accessDeniedNotice
	}
	s.forceClear(ctx, epoch, notice)
	return status, nil
}

// AcknowledgeNotice drops the forced-logout notice once the user has seen it.
func (s *Store) AcknowledgeNotice() {
	s.mu.Lock()
	if s.notice == "" {
		s.mu.Unlock()
		return
	}
	s.notice = ""
	s.mu.Unlock()
	s.notify()
}

// Wait blocks until background revalidation started by Initialize has finished.
func (s *Store) Wait() {
	s.bg.Wait()
}

// AccessToken implements Tokens.
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Access
}

// RefreshToken implements Tokens.
func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Refresh
}

// RotateAccess implements Tokens.
func (s *Store) RotateAccess(ctx context.Context, access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return shared.ErrNotAuthenticated
	}
	s.tokens.Access = access
	return s.persistLocked(ctx)
}

// ExpireOn clears the session when err says the backend no longer accepts its
// credentials. It reports whether the session was cleared.
func (s *Store) ExpireOn(ctx context.Context, err error) bool {
	if !errors.Is(err, shared.ErrUnauthenticated) {
		return false
	}
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	return s.forceClear(ctx, epoch, sessionExpiredNotice)
}

func (s *Store) forceClear(ctx context.Context, epoch uint64, notice string) bool {
	s.mu.Lock()
	if s.epoch != epoch || s.state != StateAuthenticated {
		s.mu.Unlock()
		return false
	}
	s.epoch++
	s.clearLocked(ctx)
	s.notice = notice
	s.mu.Unlock()
	s.logger.Info("session cleared", slog.String("session", s.id), slog.String("notice", notice))
	s.notify()
	return true
}

func (s *Store) clearLocked(ctx context.Context) error {
	s.user = nil
	s.tokens = TokenPair{}
	s.mustChange = false
	s.reason = ""
	s.state = StateLoggedOut
	if err := s.storage.Clear(ctx); err != nil {
		s.logger.Error("clear persisted session", slog.String("session", s.id), slog.Any("error", err))
		return err
	}
	return nil
}

// endPreviousLocked drops the session a failed re-login replaces, so neither
// memory nor storage keeps it. It returns the dropped tokens.
func (s *Store) endPreviousLocked(ctx context.Context) TokenPair {
	previous := s.tokens
	if s.user == nil && previous.Access == "" && previous.Refresh == "" {
		return TokenPair{}
	}
	s.epoch++
	s.clearLocked(ctx)
	return previous
}

// invalidate tells the backend to drop tokens on a best-effort basis.
func (s *Store) invalidate(ctx context.Context, tokens TokenPair, msg string) {
	if tokens.Access == "" && tokens.Refresh == "" {
		return
	}
	if err := s.backend.Logout(context.WithoutCancel(ctx), &tokens); err != nil {
		s.logger.Warn(msg, slog.String("session", s.id), slog.Any("error", err))
	}
}

func (s *Store) persistLocked(ctx context.Context) error {
	if s.user == nil {
		return shared.ErrNotAuthenticated
	}
	user := *s.user
	return s.storage.Save(ctx, Persisted{
		AccessToken:        s.tokens.Access,
		RefreshToken:       s.tokens.Refresh,
		User:               &user,
		MustChangePassword: s.mustChange,
	})
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:              s.state,
		MustChangePassword: s.mustChange,
		Initializing:       s.initializing || (!s.initialized && s.state == StateIdle),
		Reason:             s.reason,
		Notice:             s.notice,
	}
	if s.user != nil {
		user := *s.user
		snap.User = &user
	}
	return snap
}

func (s *Store) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

var _ Tokens = (*Store)(nil)
