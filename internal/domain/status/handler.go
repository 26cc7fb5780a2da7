// Package status serves the read-only HTTP view of the store: health, load
// history, per-load stage counts, table summaries and prometheus metrics.
package status

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/ehr/chartfold/internal/domain/loader"
	"github.com/ehr/chartfold/internal/domain/records"
	"github.com/ehr/chartfold/internal/platform/db"
	"github.com/ehr/chartfold/internal/platform/metrics"
	"github.com/ehr/chartfold/pkg/pagination"
)

type Handler struct {
	loader  *loader.Loader
	store   *db.DB
	metrics *metrics.Metrics
}

func NewHandler(l *loader.Loader, store *db.DB, m *metrics.Metrics) *Handler {
	return &Handler{loader: l, store: store, metrics: m}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", db.HealthHandler(h.store))
	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))
	}

	api := e.Group("/api/v1")
	api.GET("/loads", h.ListLoads)
	api.GET("/loads/:id", h.GetLoad)
	api.GET("/loads/:id/stages", h.GetStages)
	api.GET("/sources", h.ListSources)
	api.GET("/sources/:source/counts", h.GetSourceCounts)
	api.GET("/summary", h.GetSummary)
}

func (h *Handler) ListLoads(c echo.Context) error {
	pg := pagination.FromContext(c)
	source := c.QueryParam("source")

	items, total, err := h.loader.ListLoads(c.Request().Context(), source, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*loader.LoadEntry{}
	}

	filters := url.Values{}
	if source != "" {
		filters.Set("source", source)
	}
	resp := pagination.NewResponse(items, total, pg)
	resp.Links = pg.Links(c.Request().URL.Path, filters, total)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetLoad(c echo.Context) error {
	entry, err := h.loader.LoadByID(c.Request().Context(), c.Param("id"))
	if errors.Is(err, loader.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "load not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entry)
}

// GetStages returns the stored stage comparison of a load. ?format=text
// answers with the operator table printed by the load command.
func (h *Handler) GetStages(c echo.Context) error {
	rep, err := h.loader.StageCounts(c.Request().Context(), c.Param("id"))
	if errors.Is(err, loader.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "load not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if c.QueryParam("format") == "text" {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
		c.Response().WriteHeader(http.StatusOK)
		return rep.Render(c.Response())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"load_id": c.Param("id"),
		"stages":  rep.Stages,
		"totals":  rep.Totals(),
		"lossy":   rep.Lossy(),
	})
}

// SourceEntry pairs a source with its most recent load.
type SourceEntry struct {
	Source string            `json:"source"`
	Last   *loader.LoadEntry `json:"last_load"`
	Counts records.Counts    `json:"counts"`
}

func (h *Handler) ListSources(c echo.Context) error {
	ctx := c.Request().Context()
	names, err := h.loader.Sources(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	out := make([]SourceEntry, 0, len(names))
	for _, name := range names {
		last, err := h.loader.History(ctx, name, 1)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		counts, err := h.loader.SourceCounts(ctx, name)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		entry := SourceEntry{Source: name, Counts: counts}
		if len(last) > 0 {
			entry.Last = last[0]
		}
		out = append(out, entry)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetSourceCounts(c echo.Context) error {
	ctx := c.Request().Context()
	source := c.Param("source")
	if _, err := h.loader.LastCounts(ctx, source); errors.Is(err, loader.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "source not loaded")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	counts, err := h.loader.SourceCounts(ctx, source)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"source": source,
		"counts": counts,
		"total":  counts.Total(),
	})
}

func (h *Handler) GetSummary(c echo.Context) error {
	ctx := c.Request().Context()
	counts, err := h.loader.Summary(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	sources, err := h.loader.Sources(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sources == nil {
		sources = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"counts":  counts,
		"total":   counts.Total(),
		"sources": sources,
	})
}
