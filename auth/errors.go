package auth

import (
	"errors"
	"fmt"
)

var (
	// Returned by SignIn before the controller has finished initializing
	// against the current client capability.
	ErrNotInitialized = errors.New("auth client not initialized")

	// Returned by SignIn and SignOut while another authentication attempt is
	// running. Caller misuse; not retryable.
	ErrInProgress = errors.New("authentication already in progress")

	ErrNotSignedIn = errors.New("not signed in")

	// Returned (possibly wrapped) by Client.Init when the auth flow was picked
	// up and completed in a different context. Initialization failures wrapping
	// this error do not clear the persisted subject.
	ErrSignInContinued = errors.New("sign-in continued in another context")
)

// RedirectRequiredError is returned by redirect-based sign-in implementations:
// the user must visit AuthorizeURL to continue the flow, and the session will
// arrive later through the callback and re-initialization.
type RedirectRequiredError struct {
	AuthorizeURL string
}

func (e *RedirectRequiredError) Error() string {
	return fmt.Sprintf("user authorization required: %s", e.AuthorizeURL)
}
