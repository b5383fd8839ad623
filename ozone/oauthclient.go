// Package ozone binds the console to the live atproto network: OAuth sign-in
// against the operator's host, moderation service configuration lookup, and
// the delegated-access probe.
package ozone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	client "github.com/bluesky-social/indigo/atproto/atclient"
	"github.com/bluesky-social/indigo/atproto/auth/oauth"
	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/atcosm/modconsole/auth"
)

// OAuthClient adapts the atproto OAuth client app to the auth.Client
// capability. Sign-in is redirect-based: SignIn starts the auth flow and
// returns a RedirectRequiredError; the session materializes on the next Init
// after HandleCallback processes the auth server's response.
type OAuthClient struct {
	app *oauth.ClientApp
	log *slog.Logger

	mu         sync.Mutex
	flowActive bool
	flowState  string
	pending    *pendingLogin
	subs       map[int]func(syntax.DID)
	nextSub    int
}

// A completed callback waiting to be picked up by Init.
type pendingLogin struct {
	did       syntax.DID
	sessionID string
	state     string
}

var _ auth.Client = (*OAuthClient)(nil)

func NewOAuthClient(app *oauth.ClientApp, logger *slog.Logger) *OAuthClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthClient{
		app:  app,
		log:  logger.With("system", "ozone"),
		subs: make(map[int]func(syntax.DID)),
	}
}

func (c *OAuthClient) App() *oauth.ClientApp {
	return c.app
}

func (c *OAuthClient) Init(ctx context.Context, hint *syntax.DID) (*auth.InitResult, error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	flowActive := c.flowActive
	c.mu.Unlock()

	if pending != nil {
		sess, err := c.app.ResumeSession(ctx, pending.did, pending.sessionID)
		if err != nil {
			return nil, fmt.Errorf("resuming session after auth flow: %w", err)
		}
		return &auth.InitResult{Session: c.wrap(sess), Fresh: true, State: pending.state}, nil
	}

	if flowActive {
		// an auth flow is underway; don't disturb the stored subject
		return nil, auth.ErrSignInContinued
	}

	if hint == nil {
		return nil, nil
	}
	// An empty slot is "nothing to restore", not a failure. Ask the store
	// directly rather than relying on how ResumeSession wraps the store error.
	if _, err := c.app.Store.GetSession(ctx, *hint, ""); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("restoring session: %w", err)
	}
	sess, err := c.app.ResumeSession(ctx, *hint, "")
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("restoring session: %w", err)
	}
	return &auth.InitResult{Session: c.wrap(sess)}, nil
}

func (c *OAuthClient) SignIn(ctx context.Context, input string, opts auth.SignInOptions) (auth.Session, error) {
	redirectURL, err := c.app.StartAuthFlow(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("starting auth flow: %w", err)
	}

	c.mu.Lock()
	c.flowActive = true
	c.flowState = opts.State
	c.mu.Unlock()

	c.log.Info("auth flow started", "input", input)
	return nil, &auth.RedirectRequiredError{AuthorizeURL: redirectURL}
}

// HandleCallback processes the auth server's redirect back to the console.
// On success the fresh session is recorded and delivered by the next Init.
func (c *OAuthClient) HandleCallback(ctx context.Context, params url.Values) (syntax.DID, error) {
	data, err := c.app.ProcessCallback(ctx, params)

	c.mu.Lock()
	c.flowActive = false
	state := c.flowState
	c.flowState = ""
	if err == nil {
		c.pending = &pendingLogin{did: data.AccountDID, sessionID: data.SessionID, state: state}
	}
	c.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("processing auth callback: %w", err)
	}
	c.log.Info("auth callback processed", "did", data.AccountDID)
	return data.AccountDID, nil
}

func (c *OAuthClient) SubscribeDeleted(fn func(sub syntax.DID)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *OAuthClient) emitDeleted(did syntax.DID) {
	c.mu.Lock()
	fns := make([]func(syntax.DID), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(did)
	}
}

func (c *OAuthClient) wrap(sess *oauth.ClientSession) *clientSession {
	return &clientSession{
		parent:    c,
		sess:      sess,
		did:       sess.Data.AccountDID,
		sessionID: sess.Data.SessionID,
	}
}

type clientSession struct {
	parent    *OAuthClient
	sess      *oauth.ClientSession
	did       syntax.DID
	sessionID string
}

var _ auth.Session = (*clientSession)(nil)

func (s *clientSession) Subject() syntax.DID {
	return s.did
}

// APIClient returns an authenticated client bound to the account's host.
func (s *clientSession) APIClient() *client.APIClient {
	return s.sess.APIClient()
}

func (s *clientSession) RefreshIfNeeded(ctx context.Context) error {
	if _, err := s.sess.RefreshTokens(ctx); err != nil {
		if tokenRejected(err) {
			if derr := s.parent.app.Store.DeleteSession(ctx, s.did, s.sessionID); derr != nil {
				s.parent.log.Warn("deleting rejected session", "did", s.did, "err", derr)
			}
			s.parent.emitDeleted(s.did)
			return fmt.Errorf("refresh token rejected: %w", err)
		}
		return err
	}
	return s.parent.app.Store.SaveSession(ctx, *s.sess.Data)
}

func (s *clientSession) SignOut(ctx context.Context) error {
	if err := s.parent.app.Store.DeleteSession(ctx, s.did, s.sessionID); err != nil {
		return fmt.Errorf("deleting stored session: %w", err)
	}
	s.parent.emitDeleted(s.did)
	return nil
}

// Auth server token error bodies are not structured; match the telltale
// markers of a revoked or expired grant.
func tokenRejected(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "HTTP 400") ||
		strings.Contains(msg, "HTTP 401")
}
