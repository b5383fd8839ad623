package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	crypto "github.com/bluesky-social/indigo/atproto/atcrypto"
	"github.com/bluesky-social/indigo/atproto/auth/oauth"
	"github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/atcosm/modconsole/auth"
	"github.com/atcosm/modconsole/ozone"
	"github.com/atcosm/modconsole/pkg/robusthttp"
	"github.com/atcosm/modconsole/readiness"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"github.com/urfave/cli/v2"
)

const cookieName = "modconsole"

type Server struct {
	echo        *echo.Echo
	cookies     *sessions.CookieStore
	oauthClient *ozone.OAuthClient
	controller  *auth.Controller
	loader      *auth.Loader
	monitor     *readiness.Monitor
	logger      *slog.Logger
}

func serve(cctx *cli.Context) error {
	logger := configLogger(cctx, os.Stdout)

	serviceDID, err := syntax.ParseDID(cctx.String("service-did"))
	if err != nil {
		return fmt.Errorf("invalid service-did: %w", err)
	}

	bind := cctx.String("bind")
	scopes := strings.Fields(cctx.String("oauth-scopes"))

	var config oauth.ClientConfig
	hostname := cctx.String("hostname")
	if hostname == "" {
		config = oauth.NewLocalhostConfig(
			fmt.Sprintf("http://127.0.0.1%s/oauth/callback", bind),
			scopes,
		)
		logger.Info("configuring localhost OAuth client", "callbackURL", config.CallbackURL)
	} else {
		config = oauth.NewPublicConfig(
			fmt.Sprintf("https://%s/oauth/client-metadata.json", hostname),
			fmt.Sprintf("https://%s/oauth/callback", hostname),
			scopes,
		)
	}
	if cctx.String("client-secret-key") != "" && hostname != "" {
		priv, err := crypto.ParsePrivateMultibase(cctx.String("client-secret-key"))
		if err != nil {
			return err
		}
		if err := config.SetClientSecret(priv, cctx.String("client-secret-key-id")); err != nil {
			return err
		}
		logger.Info("configuring confidential OAuth client")
	}

	oauthApp := oauth.NewClientApp(&config, ozone.NewFileAuthStore("modconsole"))
	oauthClient := ozone.NewOAuthClient(oauthApp, logger)

	httpClient := robusthttp.NewClient(logger)
	fetcher := ozone.NewConfigFetcher(identity.DefaultDirectory(), serviceDID, httpClient, logger)
	monitor := readiness.NewMonitor(serviceDID, fetcher, logger)

	srv := &Server{
		cookies:     sessions.NewCookieStore([]byte(cctx.String("session-secret"))),
		oauthClient: oauthClient,
		monitor:     monitor,
		logger:      logger,
	}

	subjects := auth.NewFileSubjectStore("modconsole")
	srv.controller = auth.NewController(subjects, auth.Hooks{
		OnRestored: func(sess auth.Session) {
			srv.bindSession(sess)
		},
		OnSignedIn: func(sess auth.Session, state string) {
			srv.bindSession(sess)
		},
		OnSignedOut: func() {
			srv.bindSession(nil)
		},
	}, logger)

	srv.loader = auth.NewLoader(srv.controller.SetClient, logger)
	if err := srv.loader.Resolve(auth.LoadedClient(oauthClient)); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/oauth/client-metadata.json", srv.HandleClientMetadata)
	e.GET("/oauth/jwks.json", srv.HandleJWKS)
	e.POST("/oauth/login", srv.HandleLogin)
	e.GET("/oauth/callback", srv.HandleCallback)
	e.POST("/oauth/logout", srv.HandleLogout, srv.requireOperator)
	e.GET("/api/status", srv.HandleStatus, srv.requireOperator)
	e.POST("/api/reconfigure", srv.HandleReconfigure, srv.requireOperator)
	srv.echo = e

	// prometheus scrape endpoint on a separate listener
	go func() {
		if err := startMetrics(cctx.String("metrics-listen")); err != nil {
			logger.Error("metrics listener failed", "err", err)
		}
	}()

	logger.Info("starting server", "bind", bind, "serviceDID", serviceDID)
	return e.Start(bind)
}

// Connects the authenticated session (or its absence) to the readiness
// monitor, and recomputes in the background.
func (srv *Server) bindSession(sess auth.Session) {
	if sess == nil {
		srv.monitor.SetSession(nil, nil)
		readinessStateGauge.Set(float64(readiness.Unavailable))
		return
	}

	did := sess.Subject()
	var prober readiness.Prober
	if api, ok := sess.(ozone.APISession); ok {
		prober = ozone.NewAccessProber(api.APIClient(), srv.monitor.ServiceDID())
	}
	srv.monitor.SetSession(&did, prober)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		st, err := srv.monitor.Refresh(ctx)
		if err != nil {
			srv.logger.Warn("readiness refresh failed", "did", did, "err", err)
		}
		readinessStateGauge.Set(float64(st))
	}()
}

func startMetrics(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler())
	return http.ListenAndServe(listen, mux)
}
