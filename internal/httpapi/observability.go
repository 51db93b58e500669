package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/rulebank/internal/rulebank"
	"github.com/fyrsmithlabs/rulebank/internal/telemetry"
)

func (s *Server) handleMetricsSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, s.substrate.Snapshot())
}

// LogSearchResponse is the response body for GET /logs/search.
type LogSearchResponse struct {
	Items []telemetry.Event `json:"items"`
	Count int               `json:"count"`
}

func (s *Server) handleSearchLogs(c echo.Context) error {
	since, _ := strconv.Atoi(c.QueryParam("since_seconds"))
	if since == 0 {
		since = 900
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit == 0 {
		limit = 50
	}

	items := s.substrate.SearchLogs(c.QueryParam("q"), c.QueryParam("level"), since, limit)
	return c.JSON(http.StatusOK, LogSearchResponse{Items: items, Count: len(items)})
}

// ContextResponse is the dashboard summary for GET /context: current
// metrics, store composition, and the most recent high-severity events.
type ContextResponse struct {
	Metrics      telemetry.MetricsSnapshot `json:"metrics"`
	Stats        rulebank.Stats            `json:"stats"`
	LogCount     int                       `json:"log_count"`
	RecentErrors []telemetry.Event         `json:"recent_errors"`
}

func (s *Server) handleContext(c echo.Context) error {
	return c.JSON(http.StatusOK, ContextResponse{
		Metrics:      s.substrate.Snapshot(),
		Stats:        s.store.Stats(),
		LogCount:     s.substrate.LogCount(),
		RecentErrors: s.substrate.SearchLogs("", "error", 900, 20),
	})
}
