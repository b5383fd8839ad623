package ozone

import (
	"context"
	"testing"

	"github.com/adrg/xdg"
	"github.com/bluesky-social/indigo/atproto/auth/oauth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOAuthClient(t *testing.T) *OAuthClient {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	xdg.Reload()

	config := oauth.NewLocalhostConfig(
		"http://127.0.0.1:8700/oauth/callback",
		[]string{"atproto"},
	)
	app := oauth.NewClientApp(&config, NewFileAuthStore("modconsole-test"))
	return NewOAuthClient(app, nil)
}

func TestOAuthClientInitEmptyStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	c := newTestOAuthClient(t)

	// hinted subject with nothing stored: clean anonymous start, no network
	res, err := c.Init(ctx, &testAccountDID)
	require.NoError(t, err)
	assert.Nil(res)
}

func TestOAuthClientInitNoHint(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	c := newTestOAuthClient(t)

	res, err := c.Init(ctx, nil)
	require.NoError(t, err)
	assert.Nil(res)
}
