// Package api implements the HTTP Intake: the stdlib net/http surface
// that turns client requests into durable (Request, Machine?, Action)
// tuples and reports their outcome back through the response envelope
// described in the external interface.
package api

import (
	"net/http"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/auth"
	"github.com/avast/labmanager-unit-vsphere/internal/capabilities"
	"github.com/avast/labmanager-unit-vsphere/internal/config"
	"github.com/avast/labmanager-unit-vsphere/internal/logging"
	"github.com/avast/labmanager-unit-vsphere/internal/observability"
	"github.com/avast/labmanager-unit-vsphere/internal/queue"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// ServerConfig holds the dependencies wired into the HTTP Intake.
type ServerConfig struct {
	Runner       store.Runner
	Capabilities *capabilities.Cache
	Notifier     queue.Notifier
	AuthCfg      *config.AuthConfig
	Labels       config.LabelsConfig
	StartedAt    time.Time
}

// StartHTTPServer builds the /api/v4 mux, wraps it with tracing and
// (optionally) authentication middleware, and starts it listening on
// addr. Returns immediately; shutdown is the caller's responsibility via
// the returned *http.Server.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	h := &Handler{
		Runner:       cfg.Runner,
		Capabilities: cfg.Capabilities,
		Notifier:     cfg.Notifier,
		Labels:       cfg.Labels,
		StartedAt:    cfg.StartedAt,
	}
	if cfg.AuthCfg != nil {
		h.Personalised = cfg.AuthCfg.Personalised
	}
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler)

	if cfg.AuthCfg != nil && cfg.AuthCfg.Enabled {
		authenticators := buildAuthenticators(cfg.AuthCfg)
		if len(authenticators) > 0 {
			handler = auth.Middleware(authenticators, cfg.AuthCfg.PublicPaths)(handler)
			logging.Op().Info("authentication enabled", "public_paths", cfg.AuthCfg.PublicPaths)
		}
	}

	handler = observability.RequestID(handler)

	server := &http.Server{Addr: addr, Handler: handler}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()
	return server
}

func buildAuthenticators(cfg *config.AuthConfig) []auth.Authenticator {
	var authenticators []auth.Authenticator

	if cfg.JWT.Enabled {
		jwtAuth, err := auth.NewJWTAuthenticator(auth.JWTAuthConfig{
			Algorithm:     cfg.JWT.Algorithm,
			Secret:        cfg.JWT.Secret,
			PublicKeyFile: cfg.JWT.PublicKeyFile,
			Issuer:        cfg.JWT.Issuer,
		})
		if err != nil {
			logging.Op().Warn("failed to create JWT authenticator", "error", err)
		} else {
			authenticators = append(authenticators, jwtAuth)
		}
	}

	if cfg.APIKeys.Enabled {
		keys := make([]auth.StaticKey, 0, len(cfg.APIKeys.Keys))
		for _, k := range cfg.APIKeys.Keys {
			keys = append(keys, auth.StaticKey{Key: k.Key, Subject: k.Subject, Admin: k.Admin})
		}
		authenticators = append(authenticators, auth.NewAPIKeyAuthenticator(keys))
	}

	return authenticators
}
