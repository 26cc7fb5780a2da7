package db

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// StoreStats describes the connection pool and schema of an open store.
type StoreStats struct {
	Driver        string `json:"driver"`
	SchemaVersion int    `json:"schema_version"`
	OpenConns     int    `json:"open_conns"`
	InUse         int    `json:"in_use"`
	MaxConns      int    `json:"max_conns"`
	WaitCount     int64  `json:"wait_count"`
	WaitDuration  string `json:"wait_duration"`
	Healthy       bool   `json:"healthy"`
}

// Stats reads the pool counters of d. SchemaVersion and Healthy are left to
// the caller.
func Stats(d *DB) *StoreStats {
	s := d.DB.Stats()
	return &StoreStats{
		Driver:       string(d.Dialect),
		OpenConns:    s.OpenConnections,
		InUse:        s.InUse,
		MaxConns:     s.MaxOpenConnections,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration.String(),
	}
}

// Check pings the store and reads its schema version.
func Check(ctx context.Context, d *DB) (*StoreStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats := Stats(d)
	if err := d.PingContext(ctx); err != nil {
		return stats, err
	}
	m, err := d.Migrator()
	if err != nil {
		return stats, err
	}
	if stats.SchemaVersion, err = m.Version(ctx); err != nil {
		return stats, err
	}
	stats.Healthy = true
	return stats, nil
}

// HealthHandler answers 200 with the store stats, or 503 when the store
// cannot be reached or was never migrated.
func HealthHandler(d *DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		stats, err := Check(c.Request().Context(), d)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
				"store":  stats,
			})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status": "healthy",
			"store":  stats,
		})
	}
}
