package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/bundleforge/bundleforge/internal/compose"
	"github.com/bundleforge/bundleforge/internal/library"
	"github.com/bundleforge/bundleforge/internal/platform/fhir"
	"github.com/bundleforge/bundleforge/pkg/pagination"
)

// IssueCountHeader reports how many validation issues the returned bundle
// carries, so clients can detect degraded fixtures without parsing the body.
const IssueCountHeader = "X-Bundleforge-Issues"

// buildRequest carries the per-request knobs accepted by POST /bundles.
// Absent fields fall back to the configured defaults.
type buildRequest struct {
	Seed        *int64 `json:"seed"`
	MinSections *int   `json:"minSections"`
	MaxSections *int   `json:"maxSections"`
	MinEntries  *int   `json:"minEntries"`
	MaxEntries  *int   `json:"maxEntries"`
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"resources": s.index.Len(),
	})
}

func (s *Server) createBundle(c echo.Context) error {
	var req buildRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(fhir.IssueTypeStructure, "invalid request body"))
	}

	opts := compose.Options{
		MinSections:      s.cfg.MinSections,
		MaxSections:      s.cfg.MaxSections,
		MinEntries:       s.cfg.MinEntries,
		MaxEntries:       s.cfg.MaxEntries,
		IdentityType:     s.cfg.IdentityType,
		Seed:             s.cfg.Seed,
		Templates:        s.templates,
		StrictRefs:       s.cfg.StrictRefs,
		SkipPlaceholders: !s.cfg.Placeholders,
	}
	if req.Seed != nil {
		if *req.Seed < 0 {
			return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(fhir.IssueTypeValue, "seed must be non-negative"))
		}
		opts.Seed = *req.Seed
	}
	if req.MinSections != nil {
		opts.MinSections = *req.MinSections
	}
	if req.MaxSections != nil {
		opts.MaxSections = *req.MaxSections
	}
	if req.MinEntries != nil {
		opts.MinEntries = *req.MinEntries
	}
	if req.MaxEntries != nil {
		opts.MaxEntries = *req.MaxEntries
	}
	if opts.MinSections < 1 || opts.MaxSections < opts.MinSections {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(fhir.IssueTypeValue, "section bounds must satisfy 1 <= min <= max"))
	}
	if opts.MinEntries < 1 || opts.MaxEntries < opts.MinEntries {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(fhir.IssueTypeValue, "entry bounds must satisfy 1 <= min <= max"))
	}

	res, err := compose.NewBuilder(s.index, opts).Build()
	if err != nil {
		if errors.Is(err, compose.ErrEmptyLibrary) {
			return c.JSON(http.StatusUnprocessableEntity, fhir.ErrorOutcome(fhir.IssueTypeNotFound, err.Error()))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.logger.Info().
		Int("entries", len(res.Bundle.Entry)).
		Int("missing", len(res.Missing)).
		Int("placeholders", len(res.Placeholders)).
		Int("issues", len(res.Issues)).
		Msg("bundle built")

	c.Response().Header().Set(IssueCountHeader, strconv.Itoa(len(res.Issues)))
	return c.JSON(http.StatusOK, res.Bundle)
}

// librarySummaryResponse describes the loaded library: totals per resource
// type plus any warnings gathered while loading.
type librarySummaryResponse struct {
	Total        int               `json:"total"`
	Compositions int               `json:"compositions"`
	Types        map[string]int    `json:"types"`
	Warnings     []library.Warning `json:"warnings,omitempty"`
}

func (s *Server) librarySummary(c echo.Context) error {
	return c.JSON(http.StatusOK, librarySummaryResponse{
		Total:        s.index.Len(),
		Compositions: len(s.index.Compositions()),
		Types:        s.index.CountByType(),
		Warnings:     s.warnings,
	})
}

func (s *Server) libraryResources(c echo.Context) error {
	resourceType := c.Param("type")
	keys := s.index.Keys(resourceType)
	if len(keys) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no %s resources in the library", resourceType))
	}

	refs := make([]string, len(keys))
	for i, key := range keys {
		refs[i] = key.Ref()
	}

	pg := pagination.FromContext(c)
	resp := pagination.NewResponse(pagination.Page(refs, pg), len(refs), pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL.Path, len(refs))
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) listTemplates(c echo.Context) error {
	return c.JSON(http.StatusOK, s.templates)
}
