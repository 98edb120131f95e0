// Package server exposes the resource library and the bundle builder over
// HTTP, so fixtures can be generated remotely during development and CI runs.
package server

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bundleforge/bundleforge/internal/compose"
	"github.com/bundleforge/bundleforge/internal/config"
	"github.com/bundleforge/bundleforge/internal/library"
	"github.com/bundleforge/bundleforge/internal/platform/middleware"
)

const requestTimeout = 30 * time.Second

// Server serves bundle builds over a shared read-only resource index. Each
// request assembles its own Builder, so concurrent builds never share
// mutable state.
type Server struct {
	cfg       config.Config
	index     *library.Index
	templates []compose.SectionTemplate
	warnings  []library.Warning
	logger    zerolog.Logger
}

// New wires a server over an already loaded index. warnings are the loader
// warnings gathered while building the index; they are surfaced by the
// library summary endpoint. An empty template slice falls back to the
// built-in catalog.
func New(cfg config.Config, ix *library.Index, templates []compose.SectionTemplate, warnings []library.Warning, logger zerolog.Logger) *Server {
	if len(templates) == 0 {
		templates = compose.DefaultTemplates()
	}
	return &Server{
		cfg:       cfg,
		index:     ix,
		templates: templates,
		warnings:  warnings,
		logger:    logger,
	}
}

// Router assembles the echo instance with the middleware chain and routes.
// The liveness endpoint stays outside the authenticated group so probes work
// without credentials.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(s.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1MB"))
	e.Use(middleware.RequestTimeout(requestTimeout))

	e.GET("/healthz", s.healthz)

	api := e.Group("")
	if s.cfg.AuthSecret != "" {
		api.Use(BearerAuth(s.cfg.AuthSecret))
	}
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	api.POST("/bundles", s.createBundle)
	api.GET("/library/summary", s.librarySummary)
	api.GET("/library/resources/:type", s.libraryResources)
	api.GET("/templates", s.listTemplates)

	return e
}
