package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atcosm/modconsole/auth"
	"github.com/atcosm/modconsole/readiness"
)

var (
	testOperatorDID = syntax.DID("did:plc:operator123")
	testServiceDID  = syntax.DID("did:plc:labeler456")
)

type stubSession struct{ did syntax.DID }

func (s stubSession) Subject() syntax.DID { return s.did }

func (s stubSession) RefreshIfNeeded(ctx context.Context) error { return nil }

func (s stubSession) SignOut(ctx context.Context) error { return nil }

type stubClient struct{ sess auth.Session }

func (c *stubClient) Init(ctx context.Context, hint *syntax.DID) (*auth.InitResult, error) {
	if c.sess == nil {
		return nil, nil
	}
	return &auth.InitResult{Session: c.sess}, nil
}

func (c *stubClient) SignIn(ctx context.Context, input string, opts auth.SignInOptions) (auth.Session, error) {
	return c.sess, nil
}

func (c *stubClient) SubscribeDeleted(fn func(sub syntax.DID)) func() {
	return func() {}
}

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context) (*readiness.ServiceConfig, error) {
	return &readiness.ServiceConfig{DID: testServiceDID}, nil
}

func newTestServer(t *testing.T, sess auth.Session) *Server {
	srv := &Server{
		cookies: sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef")),
		monitor: readiness.NewMonitor(testServiceDID, stubFetcher{}, nil),
	}
	srv.controller = auth.NewController(auth.NewMemSubjectStore(), auth.Hooks{}, nil)
	srv.controller.SetClient(&stubClient{sess: sess})
	return srv
}

// Mints the signed cookie a browser holds after completing the auth flow.
func operatorCookies(t *testing.T, srv *Server, did string) []*http.Cookie {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	sess, err := srv.cookies.Get(req, cookieName)
	require.NoError(t, err)
	sess.Values["account_did"] = did
	require.NoError(t, sess.Save(req, rec))
	return rec.Result().Cookies()
}

func TestRequireOperator(t *testing.T) {
	assert := assert.New(t)

	srv := newTestServer(t, stubSession{did: testOperatorDID})
	e := echo.New()
	handler := srv.requireOperator(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	// no cookie: rejected while a session is active
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	err := handler(e.NewContext(req, httptest.NewRecorder()))
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(http.StatusUnauthorized, httpErr.Code)

	// cookie bound to a different account: rejected
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	for _, ck := range operatorCookies(t, srv, "did:plc:someoneelse") {
		req.AddCookie(ck)
	}
	err = handler(e.NewContext(req, httptest.NewRecorder()))
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(http.StatusUnauthorized, httpErr.Code)

	// the operator's own browser passes through
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	for _, ck := range operatorCookies(t, srv, testOperatorDID.String()) {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(http.StatusOK, rec.Code)
}

func TestRequireOperatorAnonymous(t *testing.T) {
	assert := assert.New(t)

	// no active session: nothing to bind, requests pass through
	srv := newTestServer(t, nil)
	e := echo.New()
	handler := srv.requireOperator(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(http.StatusOK, rec.Code)
}
