// Package readiness derives whether the delegated moderation service is
// usable on behalf of the authenticated operator.
//
// The classification is a pure projection of (authenticated subject, service
// configuration, authorization probe result); it is re-derivable at any time
// and is not a source of truth.
package readiness

import (
	"errors"
	"net/http"

	client "github.com/bluesky-social/indigo/atproto/atclient"
	"github.com/bluesky-social/indigo/atproto/syntax"
)

type State int

const (
	// No authenticated session.
	Unavailable State = iota

	// Session present, but the service configuration or the proxied service
	// capability is not available yet.
	Pending

	// Session and configuration present, but required setup (signing key,
	// service binding, or declaration record) is missing.
	Unconfigured

	// The moderation service rejects the session.
	Unauthorized

	// Delegated access verified and configuration complete.
	Ready
)

func (s State) String() string {
	switch s {
	case Unavailable:
		return "unavailable"
	case Pending:
		return "pending"
	case Unconfigured:
		return "unconfigured"
	case Unauthorized:
		return "unauthorized"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Needs flags which parts of service setup are still missing.
type Needs struct {
	Key     bool `json:"key"`
	Service bool `json:"service"`
	Record  bool `json:"record"`
}

// ServiceConfig describes the moderation service as fetched from the network:
// its identity and what setup it still needs. Consumed here, owned by the
// fetch layer.
type ServiceConfig struct {
	DID   syntax.DID `json:"did"`
	Needs Needs      `json:"needs"`
}

// ErrAuthorizationDenied marks a probe rejection equivalent to HTTP 401.
// Probers may return it directly (possibly wrapped) instead of an API error.
var ErrAuthorizationDenied = errors.New("authorization denied by moderation service")

// Reported alongside the Unauthorized state.
var ErrAccessDenied = errors.New("account does not have access to this moderation service; if this seems in error, check the service's access configuration")

func authorizationDenied(err error) bool {
	if errors.Is(err, ErrAuthorizationDenied) {
		return true
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return true
	}
	return false
}
