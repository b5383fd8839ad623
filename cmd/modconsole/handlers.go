package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/atcosm/modconsole/auth"
	"github.com/atcosm/modconsole/readiness"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
)

type statusResponse struct {
	Auth      authStatus      `json:"auth"`
	Readiness readinessStatus `json:"readiness"`
}

type authStatus struct {
	Initialized    bool    `json:"initialized"`
	Authenticating bool    `json:"authenticating"`
	LoggedIn       bool    `json:"loggedIn"`
	DID            *string `json:"did,omitempty"`
}

type readinessStatus struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
}

type reconfigureRequest struct {
	SkipRecord *bool `json:"skipRecord,omitempty"`
}

// cookieDID reads the operator's account DID from the signed browser cookie.
// Empty when the browser never completed an auth flow here.
func (srv *Server) cookieDID(c echo.Context) string {
	sess, _ := srv.cookies.Get(c.Request(), cookieName)
	did, _ := sess.Values["account_did"].(string)
	return did
}

// requireOperator gates session-bound routes: while a session is active, only
// the browser that completed the auth flow may use them.
func (srv *Server) requireOperator(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		snap := srv.controller.Snapshot()
		if snap.DID == nil {
			return next(c)
		}
		if srv.cookieDID(c) != snap.DID.String() {
			return echo.NewHTTPError(http.StatusUnauthorized, "not the signed-in operator")
		}
		return next(c)
	}
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": versioninfo.Short(),
	})
}

func (srv *Server) HandleClientMetadata(c echo.Context) error {
	app := srv.oauthClient.App()
	meta := app.Config.ClientMetadata()
	if app.Config.IsConfidential() {
		jwksURI := fmt.Sprintf("https://%s/oauth/jwks.json", c.Request().Host)
		meta.JWKSURI = &jwksURI
	}
	name := "modconsole"
	meta.ClientName = &name

	if err := meta.Validate(app.Config.ClientID); err != nil {
		srv.logger.Error("client metadata failed validation", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "invalid client metadata")
	}
	return c.JSON(http.StatusOK, meta)
}

func (srv *Server) HandleJWKS(c echo.Context) error {
	return c.JSON(http.StatusOK, srv.oauthClient.App().Config.PublicJWKS())
}

// HandleLogin starts the OAuth flow for the identifier in the request body
// and redirects the operator to the auth server.
func (srv *Server) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Identifier == "" {
		req.Identifier = c.FormValue("identifier")
	}
	if req.Identifier == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "identifier is required")
	}

	err := srv.controller.SignIn(c.Request().Context(), req.Identifier, auth.SignInOptions{})
	var redirect *auth.RedirectRequiredError
	if errors.As(err, &redirect) {
		signInCounter.WithLabelValues("redirected").Inc()
		return c.Redirect(http.StatusFound, redirect.AuthorizeURL)
	}
	if err != nil {
		signInCounter.WithLabelValues("error").Inc()
		switch {
		case errors.Is(err, auth.ErrInProgress):
			return echo.NewHTTPError(http.StatusConflict, "authentication already in progress")
		case errors.Is(err, auth.ErrNotInitialized):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "auth client not ready")
		default:
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("sign-in failed: %s", err))
		}
	}

	// direct (non-redirect) capabilities complete synchronously
	signInCounter.WithLabelValues("completed").Inc()
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleCallback(c echo.Context) error {
	did, err := srv.oauthClient.HandleCallback(c.Request().Context(), c.QueryParams())
	if err != nil {
		signInCounter.WithLabelValues("callback_error").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("auth callback failed: %s", err))
	}

	// picks up the completed flow and fires the signed-in transition
	srv.controller.Restart()
	signInCounter.WithLabelValues("callback_ok").Inc()

	sess, _ := srv.cookies.Get(c.Request(), cookieName)
	sess.Values["account_did"] = did.String()
	if err := sess.Save(c.Request(), c.Response().Writer); err != nil {
		srv.logger.Warn("saving cookie session", "err", err)
	}

	return c.Redirect(http.StatusFound, "/api/status")
}

func (srv *Server) HandleLogout(c echo.Context) error {
	err := srv.controller.SignOut(c.Request().Context())
	switch {
	case errors.Is(err, auth.ErrNotSignedIn):
		return echo.NewHTTPError(http.StatusConflict, "not signed in")
	case errors.Is(err, auth.ErrInProgress):
		return echo.NewHTTPError(http.StatusConflict, "authentication in progress")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("sign-out failed: %s", err))
	}

	sess, _ := srv.cookies.Get(c.Request(), cookieName)
	sess.Values = make(map[any]any)
	if err := sess.Save(c.Request(), c.Response().Writer); err != nil {
		srv.logger.Warn("clearing cookie session", "err", err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleStatus(c echo.Context) error {
	snap := srv.controller.Snapshot()
	st, rerr := srv.monitor.Current()

	resp := statusResponse{
		Auth: authStatus{
			Initialized:    snap.Initialized,
			Authenticating: snap.Authenticating,
			LoggedIn:       snap.LoggedIn,
		},
		Readiness: readinessStatus{State: st.String()},
	}
	if snap.DID != nil {
		did := snap.DID.String()
		resp.Auth.DID = &did
	}
	if rerr != nil {
		resp.Readiness.Error = rerr.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleReconfigure refetches the service configuration and recomputes
// readiness, optionally suppressing the declaration record requirement for
// this cycle.
func (srv *Server) HandleReconfigure(c echo.Context) error {
	var req reconfigureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	st, err := srv.monitor.Reconfigure(c.Request().Context(), readiness.ReconfigureOptions{
		SkipRecord: req.SkipRecord,
	})
	readinessStateGauge.Set(float64(st))
	reconfigureCounter.Inc()

	resp := readinessStatus{State: st.String()}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}
