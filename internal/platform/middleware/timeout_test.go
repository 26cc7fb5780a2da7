package middleware

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func slowHandler(d time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		select {
		case <-time.After(d):
			return c.String(http.StatusOK, "ok")
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}
}

func TestRequestTimeout(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		handler  echo.HandlerFunc
		wantCode int
	}{
		{"fast handler", "/api/v1/loads", slowHandler(0), http.StatusOK},
		{"slow handler", "/api/v1/loads", slowHandler(5 * time.Second), http.StatusGatewayTimeout},
		{"skipped path", "/metrics", slowHandler(100 * time.Millisecond), http.StatusOK},
		{"handler error", "/api/v1/loads", func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusNotFound, "load not found")
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.path, tt.handler, nil, RequestTimeout(50*time.Millisecond, "/metrics"))
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantCode == http.StatusGatewayTimeout {
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode body: %v", err)
				}
				if body["error"] == "" {
					t.Errorf("expected an error message, got %v", body)
				}
			}
		})
	}
}

func TestRequestTimeout_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := func(c echo.Context) error {
		deadline, ok = c.Request().Context().Deadline()
		return c.NoContent(http.StatusNoContent)
	}

	serve(t, "/api/v1/summary", h, nil, RequestTimeout(30*time.Second))
	if !ok {
		t.Fatal("expected a deadline on the request context")
	}
	if left := time.Until(deadline); left <= 0 || left > 30*time.Second {
		t.Errorf("unexpected deadline %s away", left)
	}

	ok = false
	serve(t, "/metrics", h, nil, RequestTimeout(30*time.Second, "/metrics"))
	if ok {
		t.Error("expected no deadline on a skipped path")
	}
}
