package status

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/chartfold/internal/platform/metrics"
	"github.com/ehr/chartfold/internal/platform/middleware"
)

// DefaultTimeout bounds each status request.
const DefaultTimeout = 15 * time.Second

// NewServer builds the echo instance behind `chartfold serve`.
func NewServer(h *Handler, logger zerolog.Logger, m *metrics.Metrics, timeout time.Duration) *echo.Echo {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	if m != nil {
		e.Use(m.Middleware())
	}
	e.Use(middleware.RequestTimeout(timeout, "/metrics"))

	h.RegisterRoutes(e)
	return e
}
