package ozone

import (
	"context"
	"fmt"
	"net/http"

	client "github.com/bluesky-social/indigo/atproto/atclient"
	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/atcosm/modconsole/readiness"
)

// APISession is satisfied by sessions which can issue authenticated API
// requests (including the sessions this package produces).
type APISession interface {
	APIClient() *client.APIClient
}

// AccessProber verifies that the moderation service accepts the operator's
// session, by issuing an authenticated request proxied through the labeler.
// The response body is irrelevant; only acceptance or rejection matters.
type AccessProber struct {
	api *client.APIClient
}

var _ readiness.Prober = (*AccessProber)(nil)

// NewAccessProber wraps an authenticated API client so that requests are
// proxied to the moderation service. The client is copied; the proxy header
// does not leak into other uses.
func NewAccessProber(api *client.APIClient, serviceDID syntax.DID) *AccessProber {
	proxied := *api
	hdr := make(http.Header, len(api.Headers)+1)
	for k, v := range api.Headers {
		hdr[k] = v
	}
	hdr.Set("atproto-proxy", fmt.Sprintf("%s#%s", serviceDID, labelerServiceID))
	proxied.Headers = hdr
	return &AccessProber{api: &proxied}
}

func (p *AccessProber) CheckAccess(ctx context.Context, sub syntax.DID) error {
	err := p.api.Get(ctx, "tools.ozone.moderation.getRepo", map[string]any{
		"did": sub.String(),
	}, nil)
	if err != nil {
		return fmt.Errorf("moderation access probe: %w", err)
	}
	return nil
}
