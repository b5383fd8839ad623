package auth

import (
	"context"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// An authenticated handle on the operator's account at their PDS (or entryway).
// Owned exclusively by the Controller between adoption and clearing.
type Session interface {
	// Stable subject (account DID) of the authenticated session.
	Subject() syntax.DID

	// Refreshes tokens if the implementation considers it necessary. Called
	// fire-and-forget whenever a session becomes current.
	RefreshIfNeeded(ctx context.Context) error

	// Revokes the session. Implementations should emit a deleted event for
	// the session subject on success.
	SignOut(ctx context.Context) error
}

// Result of Client.Init. A nil *InitResult (with nil error) means "no prior
// session": the user proceeds anonymously.
type InitResult struct {
	Session Session

	// Fresh is set when initialization completed a pending sign-in flow (eg,
	// an OAuth callback resumed on restart), rather than restoring an
	// existing session.
	Fresh bool

	// Opaque application state carried through a fresh sign-in flow. Empty
	// for plain restorations.
	State string
}

type SignInOptions struct {
	// Opaque state token carried through the authorization flow and handed
	// back via OnSignedIn.
	State string
}

// Client is the identity-provider client capability: it can restore sessions,
// start sign-in flows, and notify about out-of-band session invalidation.
//
// Implementations must be comparable (pointer receivers); the Controller
// discards stale initialization results by comparing client identity.
type Client interface {
	// Attempts to restore a session for the hinted subject, or to pick up a
	// completed sign-in flow. hint may be nil, meaning no prior session is
	// known. Returns (nil, nil) when there is nothing to restore.
	Init(ctx context.Context, hint *syntax.DID) (*InitResult, error)

	// Starts authentication for the given account identifier (handle, DID,
	// or host URL). May return *RedirectRequiredError when the flow needs
	// user interaction in a browser.
	SignIn(ctx context.Context, input string, opts SignInOptions) (Session, error)

	// Registers a callback invoked whenever a session is invalidated
	// out-of-band (revocation, cross-context sign-out). The returned func
	// removes the subscription.
	SubscribeDeleted(fn func(sub syntax.DID)) (unsubscribe func())
}
