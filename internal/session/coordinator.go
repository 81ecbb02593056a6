package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"myaccountapp/account-client/internal/auth"
	"myaccountapp/account-client/internal/profile"
	"myaccountapp/account-client/internal/retry"
)

const (
	opSignIn        = "sign_in"
	opRegister      = "register"
	opSignOut       = "sign_out"
	opResetPassword = "reset_password"
	opDeleteAccount = "delete_account"
	opFetchProfile  = "fetch_profile"
)

type AuthService interface {
	CurrentSession() (auth.Session, bool)
	SignIn(ctx context.Context, email, password string) (auth.Session, error)
	CreateIdentity(ctx context.Context, email, password string) (auth.Session, error)
	InvalidateSession(ctx context.Context, session auth.Session) error
	DeleteIdentity(ctx context.Context, session auth.Session) error
	// RefreshSession returns session with a usable ID token, renewing it
	// when it has lapsed.
	RefreshSession(ctx context.Context, session auth.Session) (auth.Session, error)
	SendPasswordReset(ctx context.Context, email string) error
}

// ProfileStore returns profile.ErrNotFound when no document exists.
type ProfileStore interface {
	Get(ctx context.Context, id string) (profile.Profile, error)
	Put(ctx context.Context, id string, p profile.Profile) error
	Delete(ctx context.Context, id string) error
}

type NetworkMonitor interface {
	CurrentlyReachable() bool
	OnChange(fn func(reachable bool)) (release func())
}

type Metrics interface {
	RecordOperation(operation, outcome string)
	RecordFetchAttempt()
	SetNetworkAvailable(available bool)
	SetSignedIn(signedIn bool)
}

type Deps struct {
	Auth     AuthService
	Profiles ProfileStore
	Network  NetworkMonitor
	Metrics  Metrics
	Logger   *slog.Logger
	Sleeper  retry.Sleeper
}

type Config struct {
	Retry retry.Policy
}

// Coordinator owns the signed-in session, the matching profile, the loading
// flag and the network flag. One mutex guards all of it; observers receive
// a copy after every change, in change order.
type Coordinator struct {
	auth     AuthService
	profiles ProfileStore
	metrics  Metrics
	log      *slog.Logger
	sleeper  retry.Sleeper
	policy   retry.Policy

	// notifyMu serialises mutate-then-notify so observers see changes in order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	epoch     uint64
	observers []observer
	nextObs   uint64

	release   func()
	closeOnce sync.Once
}

type observer struct {
	id uint64
	fn func(State)
}

func NewCoordinator(deps Deps, cfg Config) (*Coordinator, error) {
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Profiles == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	if deps.Network == nil {
		return nil, fmt.Errorf("network monitor is required")
	}
	policy := cfg.Retry
	if policy == (retry.Policy{}) {
		policy = retry.Default()
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	c := &Coordinator{
		auth:     deps.Auth,
		profiles: deps.Profiles,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		sleeper:  deps.Sleeper,
		policy:   policy,
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.sleeper == nil {
		c.sleeper = retry.ClockSleeper{}
	}

	if sess, ok := deps.Auth.CurrentSession(); ok {
		c.state.Session = &sess
	}
	c.state.NetworkAvailable = deps.Network.CurrentlyReachable()
	c.metrics.SetNetworkAvailable(c.state.NetworkAvailable)
	c.metrics.SetSignedIn(c.state.Session != nil)
	c.release = deps.Network.OnChange(c.onNetworkChange)

	return c, nil
}

// Start runs the initial profile refresh in the background. The returned
// channel closes when it finishes.
func (c *Coordinator) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.FetchProfile(ctx); err != nil {
			c.log.Warn("initial profile refresh failed", "error", err)
		}
	}()
	return done
}

// Close releases the network subscription.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
}

func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe registers fn for every state change. fn runs synchronously on
// the mutating goroutine and must not call coordinator operations.
func (c *Coordinator) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextObs++
	id := c.nextObs
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, o := range c.observers {
				if o.id == id {
					c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// update applies fn under the state lock and, when fn reports a change,
// notifies observers with the resulting snapshot.
func (c *Coordinator) update(fn func(s *State) bool) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	changed := fn(&c.state)
	snap := c.state.clone()
	observers := append([]observer(nil), c.observers...)
	c.mu.Unlock()

	if !changed {
		return
	}
	c.metrics.SetSignedIn(snap.Session != nil)
	for _, o := range observers {
		o.fn(snap)
	}
}

func (c *Coordinator) onNetworkChange(reachable bool) {
	c.update(func(s *State) bool {
		if s.NetworkAvailable == reachable {
			return false
		}
		s.NetworkAvailable = reachable
		return true
	})
	c.metrics.SetNetworkAvailable(reachable)
}

// begin checks the preconditions of a mutating operation and raises the
// loading flag. It returns the session held at that moment and the epoch
// used to detect superseded completions.
func (c *Coordinator) begin(needSession bool) (*auth.Session, uint64, error) {
	var (
		sess  *auth.Session
		epoch uint64
		err   error
	)
	c.update(func(s *State) bool {
		switch {
		case !s.NetworkAvailable:
			err = ErrNetworkUnavailable
			return false
		case needSession && s.Session == nil:
			err = ErrNoActiveSession
			return false
		case s.IsLoading:
			err = ErrOperationInProgress
			return false
		}
		if s.Session != nil {
			cp := *s.Session
			sess = &cp
		}
		epoch = c.epoch
		s.IsLoading = true
		return true
	})
	return sess, epoch, err
}

func (c *Coordinator) end() {
	c.update(func(s *State) bool {
		if !s.IsLoading {
			return false
		}
		s.IsLoading = false
		return true
	})
}

// install replaces the session unless a sign-out or deletion happened since
// epoch was taken.
func (c *Coordinator) install(epoch uint64, sess auth.Session) bool {
	installed := false
	c.update(func(s *State) bool {
		if c.epoch != epoch {
			return false
		}
		c.epoch++
		s.Session = &sess
		s.Profile = nil
		installed = true
		return true
	})
	return installed
}

// replaceTokens swaps in renewed credentials for the same identity without
// touching the profile.
func (c *Coordinator) replaceTokens(epoch uint64, sess auth.Session) {
	c.update(func(s *State) bool {
		if c.epoch != epoch || s.Session == nil || s.Session.UserID != sess.UserID {
			return false
		}
		s.Session = &sess
		return true
	})
}

func (c *Coordinator) clearSession() {
	c.update(func(s *State) bool {
		c.epoch++
		if s.Session == nil && s.Profile == nil {
			return false
		}
		s.Session = nil
		s.Profile = nil
		return true
	})
}

func (c *Coordinator) discard(ctx context.Context, sess auth.Session) {
	c.log.Info("discarding superseded session", "user_id", sess.UserID)
	if err := c.auth.InvalidateSession(ctx, sess); err != nil {
		c.log.Warn("invalidate superseded session failed", "user_id", sess.UserID, "error", err)
	}
}

func (c *Coordinator) SignIn(ctx context.Context, email, password string) (auth.Session, error) {
	sess, err := c.signIn(ctx, email, password)
	c.record(opSignIn, err)
	return sess, err
}

func (c *Coordinator) signIn(ctx context.Context, email, password string) (auth.Session, error) {
	_, epoch, err := c.begin(false)
	if err != nil {
		return auth.Session{}, err
	}
	defer c.end()

	sess, err := c.auth.SignIn(ctx, email, password)
	if err != nil {
		return auth.Session{}, err
	}
	if !c.install(epoch, sess) {
		c.discard(ctx, sess)
		return auth.Session{}, ErrSuperseded
	}
	c.log.Info("signed in", "user_id", sess.UserID)

	if err := c.FetchProfile(ctx); err != nil {
		c.log.Warn("profile refresh after sign-in failed", "user_id", sess.UserID, "error", err)
	}
	return sess, nil
}

func (c *Coordinator) Register(ctx context.Context, displayName, email, password string) (auth.Session, error) {
	sess, err := c.register(ctx, displayName, email, password)
	c.record(opRegister, err)
	return sess, err
}

func (c *Coordinator) register(ctx context.Context, displayName, email, password string) (auth.Session, error) {
	_, epoch, err := c.begin(false)
	if err != nil {
		return auth.Session{}, err
	}
	defer c.end()

	sess, err := c.auth.CreateIdentity(ctx, email, password)
	if err != nil {
		if auth.CodeOf(err) == auth.CodeEmailRegistered {
			return auth.Session{}, &EmailInUseError{Email: email}
		}
		return auth.Session{}, err
	}

	// The identity is kept even when the profile write fails.
	putErr := c.profiles.Put(ctx, sess.UserID, profile.Profile{
		ID:          sess.UserID,
		DisplayName: displayName,
		Email:       email,
	})

	if !c.install(epoch, sess) {
		c.discard(ctx, sess)
		return auth.Session{}, ErrSuperseded
	}
	c.log.Info("registered", "user_id", sess.UserID)

	if putErr != nil {
		c.log.Error("create profile document failed", "user_id", sess.UserID, "error", putErr)
		return sess, &StoreError{Op: "put", Err: putErr}
	}

	if err := c.FetchProfile(ctx); err != nil {
		c.log.Warn("profile refresh after registration failed", "user_id", sess.UserID, "error", err)
	}
	return sess, nil
}

// SignOut always clears local state; a backend failure is only logged.
func (c *Coordinator) SignOut(ctx context.Context) {
	current := c.Snapshot().Session
	var err error
	if current != nil {
		err = c.auth.InvalidateSession(ctx, *current)
		if err != nil {
			c.log.Error("invalidate session failed", "user_id", current.UserID, "error", err)
		}
	}
	c.clearSession()
	if current != nil {
		c.log.Info("signed out", "user_id", current.UserID)
	}
	c.record(opSignOut, err)
}

func (c *Coordinator) ResetPassword(ctx context.Context, email string) error {
	err := c.resetPassword(ctx, email)
	c.record(opResetPassword, err)
	return err
}

func (c *Coordinator) resetPassword(ctx context.Context, email string) error {
	if _, _, err := c.begin(false); err != nil {
		return err
	}
	defer c.end()
	return c.auth.SendPasswordReset(ctx, email)
}

func (c *Coordinator) DeleteAccount(ctx context.Context) error {
	err := c.deleteAccount(ctx)
	c.record(opDeleteAccount, err)
	return err
}

func (c *Coordinator) deleteAccount(ctx context.Context) error {
	sess, epoch, err := c.begin(true)
	if err != nil {
		return err
	}
	defer c.end()

	// Nothing is removed unless the identity can still be authorised.
	fresh, err := c.auth.RefreshSession(ctx, *sess)
	if err != nil {
		c.log.Warn("refresh session before deletion failed", "user_id", sess.UserID, "error", err)
		return err
	}
	if fresh.IDToken != sess.IDToken {
		c.replaceTokens(epoch, fresh)
	}
	sess = &fresh

	if err := c.profiles.Delete(ctx, sess.UserID); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	// The profile document is not recreated if this fails.
	if err := c.auth.DeleteIdentity(ctx, *sess); err != nil {
		c.log.Error("delete identity failed after profile removal", "user_id", sess.UserID, "error", err)
		return err
	}
	c.clearSession()
	c.log.Info("account deleted", "user_id", sess.UserID)
	return nil
}

// FetchProfile reloads the profile for the current session. It does nothing
// while offline, clears the profile when signed out or when no document
// exists, and retries transient failures under the configured policy.
func (c *Coordinator) FetchProfile(ctx context.Context) error {
	err := c.fetchProfile(ctx)
	c.record(opFetchProfile, err)
	return err
}

func (c *Coordinator) fetchProfile(ctx context.Context) error {
	c.mu.Lock()
	online := c.state.NetworkAvailable
	epoch := c.epoch
	var userID string
	if c.state.Session != nil {
		userID = c.state.Session.UserID
	}
	c.mu.Unlock()

	if !online {
		return nil
	}
	if userID == "" {
		c.setProfile(epoch, nil)
		return nil
	}

	var fetched profile.Profile
	err := c.policy.Do(ctx, c.sleeper, func(ctx context.Context, attempt int) error {
		c.metrics.RecordFetchAttempt()
		p, err := c.profiles.Get(ctx, userID)
		if errors.Is(err, profile.ErrNotFound) {
			return retry.Stop(err)
		}
		if err != nil {
			c.log.Debug("profile read failed", "user_id", userID, "attempt", attempt, "error", err)
			return err
		}
		fetched = p
		return nil
	})

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		if fetched.ID != userID {
			c.log.Warn("discarding profile for another identity", "user_id", userID, "profile_id", fetched.ID)
			c.setProfile(epoch, nil)
			return nil
		}
		c.setProfile(epoch, &fetched)
		return nil
	case errors.Is(err, profile.ErrNotFound):
		c.setProfile(epoch, nil)
		return nil
	case errors.As(err, &exhausted):
		c.setProfile(epoch, nil)
		return &ProfileFetchError{Attempts: exhausted.Attempts, Last: exhausted.Last}
	default:
		return err
	}
}

// setProfile is a no-op once the session has changed since epoch.
func (c *Coordinator) setProfile(epoch uint64, p *profile.Profile) {
	c.update(func(s *State) bool {
		if c.epoch != epoch {
			return false
		}
		if p == nil && s.Profile == nil {
			return false
		}
		s.Profile = p
		return true
	})
}

func (c *Coordinator) record(op string, err error) {
	c.metrics.RecordOperation(op, Outcome(err))
}

// Outcome names the error class for metrics and audit records.
func Outcome(err error) string {
	var (
		emailInUse *EmailInUseError
		fetchErr   *ProfileFetchError
		storeErr   *StoreError
		authErr    *auth.Error
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNetworkUnavailable):
		return "network_unavailable"
	case errors.Is(err, ErrOperationInProgress):
		return "in_progress"
	case errors.Is(err, ErrNoActiveSession):
		return "no_session"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	case errors.As(err, &emailInUse):
		return "email_in_use"
	case errors.As(err, &fetchErr):
		return "profile_fetch_failed"
	case errors.As(err, &storeErr):
		return "store_failure"
	case errors.As(err, &authErr):
		return "auth_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

type noopMetrics struct{}

func (noopMetrics) RecordOperation(string, string) {}
func (noopMetrics) RecordFetchAttempt()            {}
func (noopMetrics) SetNetworkAvailable(bool)       {}
func (noopMetrics) SetSignedIn(bool)               {}
