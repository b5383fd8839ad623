package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// Hooks are the host application's reactions to lifecycle transitions. Each
// callback is invoked exactly once per corresponding transition, never
// concurrently with another lifecycle callback, and always after the
// persisted subject has been updated.
type Hooks struct {
	// Invoked when initialization completes with a restored session, or with
	// nil when there was nothing to restore.
	OnRestored func(sess Session)

	// Invoked when a sign-in completes, either directly or by a fresh
	// initialization picking up a finished auth flow. state is the opaque
	// token carried through the flow ("" if none).
	OnSignedIn func(sess Session, state string)

	OnSignedOut func()

	// Supplies the opaque state token carried through a sign-in flow.
	GetState func(ctx context.Context) (string, error)
}

// Externally observable controller state.
type Status struct {
	Initialized    bool
	Authenticating bool
	LoggedIn       bool
	DID            *syntax.DID
}

// Controller owns the authenticated session: it drives initialization and
// restoration against the current client capability, serializes sign-in and
// sign-out, and reacts to out-of-band revocation events. At most one session
// is held at any time, and the persisted subject always matches it.
type Controller struct {
	store SubjectStore
	hooks Hooks
	log   *slog.Logger

	mu             sync.Mutex
	client         Client
	session        Session
	initialized    bool
	authenticating bool
	unsubDeleted   func()

	// serializes lifecycle callbacks
	hookMu sync.Mutex
}

func NewController(store SubjectStore, hooks Hooks, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store: store,
		hooks: hooks,
		log:   logger.With("system", "auth"),
	}
}

// SetClient swaps the client capability and re-initializes against it.
// Passing the current client is a no-op; passing nil detaches the session
// without touching the persisted subject. Normally wired as the Loader's
// publish sink.
func (c *Controller) SetClient(client Client) {
	c.mu.Lock()
	if client == c.client {
		c.mu.Unlock()
		return
	}
	c.client = client
	c.initialized = false
	c.detachLocked()
	c.mu.Unlock()

	if client == nil {
		return
	}
	c.initialize(client)
}

// Restart re-runs initialization against the current capability. Used after
// an auth flow callback completes, and equivalent to a page reload.
func (c *Controller) Restart() {
	c.mu.Lock()
	client := c.client
	c.initialized = false
	c.detachLocked()
	c.mu.Unlock()

	if client == nil {
		return
	}
	c.initialize(client)
}

// Runs one initialization attempt. The result is discarded if the client
// capability changed while the attempt was in flight.
func (c *Controller) initialize(client Client) {
	ctx := context.Background()

	hint, err := c.store.Get(ctx)
	if err != nil {
		c.log.Warn("reading persisted subject", "err", err)
		hint = nil
	}

	res, err := client.Init(ctx, hint)

	c.mu.Lock()
	if c.client != client {
		// capability changed mid-flight; discard
		c.mu.Unlock()
		return
	}
	c.initialized = true

	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, ErrSignInContinued) {
			return
		}
		c.log.Warn("session restoration failed", "err", err)
		if err := c.store.Clear(ctx); err != nil {
			c.log.Error("clearing persisted subject", "err", err)
		}
		c.emitRestored(nil)
		return
	}

	if res == nil || res.Session == nil {
		c.mu.Unlock()
		if err := c.store.Clear(ctx); err != nil {
			c.log.Error("clearing persisted subject", "err", err)
		}
		c.emitRestored(nil)
		return
	}

	sess := res.Session
	c.adoptLocked(client, sess)
	c.mu.Unlock()

	if res.Fresh {
		c.log.Info("sign-in flow completed", "did", sess.Subject())
		c.emitSignedIn(sess, res.State)
	} else {
		c.log.Info("session restored", "did", sess.Subject())
		c.emitRestored(sess)
	}
}

// SignIn authenticates the account identified by input (handle, DID, or host
// URL). Fails fast with ErrInProgress or ErrNotInitialized on misuse.
// Redirect-based capabilities surface *RedirectRequiredError, which the
// caller turns into a browser redirect; the session then arrives via the
// callback and Restart.
func (c *Controller) SignIn(ctx context.Context, input string, opts SignInOptions) error {
	c.mu.Lock()
	if c.authenticating {
		c.mu.Unlock()
		return ErrInProgress
	}
	if c.client == nil || !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	client := c.client
	c.authenticating = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.authenticating = false
		c.mu.Unlock()
	}()

	state := opts.State
	if state == "" && c.hooks.GetState != nil {
		s, err := c.hooks.GetState(ctx)
		if err != nil {
			c.log.Warn("sign-in state callback failed", "err", err)
			return err
		}
		state = s
	}

	sess, err := client.SignIn(ctx, input, SignInOptions{State: state})
	if err != nil {
		var redirect *RedirectRequiredError
		if !errors.As(err, &redirect) {
			c.log.Warn("sign-in failed", "input", input, "err", err)
		}
		return err
	}

	c.mu.Lock()
	c.adoptLocked(client, sess)
	c.mu.Unlock()

	c.log.Info("signed in", "did", sess.Subject())
	c.emitSignedIn(sess, state)
	return nil
}

// SignOut revokes the current session. If remote revocation fails the local
// session is cleared anyway: local consistency wins over remote confirmation.
func (c *Controller) SignOut(ctx context.Context) error {
	c.mu.Lock()
	if c.authenticating {
		c.mu.Unlock()
		return ErrInProgress
	}
	if c.session == nil {
		c.mu.Unlock()
		return ErrNotSignedIn
	}
	sess := c.session
	c.authenticating = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.authenticating = false
		c.mu.Unlock()
	}()

	err := sess.SignOut(ctx)
	if err != nil {
		c.log.Warn("session revocation failed, clearing local session", "err", err)
	}

	c.mu.Lock()
	if c.session != sess {
		// the capability's deleted event already cleared it
		c.mu.Unlock()
		return nil
	}
	c.clearSessionLocked(ctx)
	c.mu.Unlock()

	c.emitSignedOut()
	return nil
}

// Reacts to out-of-band session invalidation. Events for subjects other than
// the current session are ignored.
func (c *Controller) handleDeleted(sub syntax.DID) {
	c.mu.Lock()
	if c.session == nil || c.session.Subject() != sub {
		c.mu.Unlock()
		return
	}
	c.clearSessionLocked(context.Background())
	c.mu.Unlock()

	c.log.Info("session revoked", "did", sub)
	c.emitSignedOut()
}

// Adopts a session: persist the subject, subscribe to revocation events for
// the owning client, and kick off a conditional token refresh. Persisting
// happens before any callback can observe the session.
func (c *Controller) adoptLocked(client Client, sess Session) {
	if c.unsubDeleted != nil {
		c.unsubDeleted()
	}
	c.session = sess
	if err := c.store.Put(context.Background(), sess.Subject()); err != nil {
		c.log.Error("persisting subject", "did", sess.Subject(), "err", err)
	}
	c.unsubDeleted = client.SubscribeDeleted(c.handleDeleted)

	go func() {
		if err := sess.RefreshIfNeeded(context.Background()); err != nil {
			c.log.Warn("conditional token refresh failed", "did", sess.Subject(), "err", err)
		}
	}()
}

func (c *Controller) clearSessionLocked(ctx context.Context) {
	c.detachLocked()
	if err := c.store.Clear(ctx); err != nil {
		c.log.Error("clearing persisted subject", "err", err)
	}
}

// Drops the session without touching the persisted subject (used while
// re-initializing, when the subject must survive for restoration).
func (c *Controller) detachLocked() {
	c.session = nil
	if c.unsubDeleted != nil {
		c.unsubDeleted()
		c.unsubDeleted = nil
	}
}

func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Initialized:    c.initialized,
		Authenticating: c.authenticating,
		LoggedIn:       c.session != nil,
	}
	if c.session != nil {
		did := c.session.Subject()
		st.DID = &did
	}
	return st
}

// Close detaches the revocation subscription and drops the client. No
// lifecycle callbacks fire.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.detachLocked()
	c.client = nil
	c.initialized = false
}

func (c *Controller) emitRestored(sess Session) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	if c.hooks.OnRestored != nil {
		c.hooks.OnRestored(sess)
	}
}

func (c *Controller) emitSignedIn(sess Session, state string) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	if c.hooks.OnSignedIn != nil {
		c.hooks.OnSignedIn(sess, state)
	}
}

func (c *Controller) emitSignedOut() {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	if c.hooks.OnSignedOut != nil {
		c.hooks.OnSignedOut()
	}
}
