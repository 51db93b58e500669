package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulebank/internal/rulebank"
)

// RuleRequest is the request body for POST /rules and POST /candidates.
type RuleRequest struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
	Sources    []string `json:"sources"`
	Version    string   `json:"version"`
	Confidence float64  `json:"confidence"`
	Weight     float64  `json:"weight"`
	Status     string   `json:"status"`
	Dedup      *bool    `json:"dedup"`
	Upsert     bool     `json:"upsert"`
}

func (r RuleRequest) toRule() rulebank.Rule {
	return rulebank.Rule{
		Title:      r.Title,
		Content:    r.Content,
		Category:   r.Category,
		Tags:       r.Tags,
		Sources:    r.Sources,
		Version:    r.Version,
		Confidence: r.Confidence,
		Weight:     r.Weight,
		Status:     rulebank.Status(r.Status),
	}
}

// dedupEnabled defaults to true when the request leaves it unset.
func (r RuleRequest) dedupEnabled() bool {
	if r.Dedup == nil {
		return true
	}
	return *r.Dedup
}

// NotFoundResponse is the 404 body for unknown rule identifiers.
type NotFoundResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// translateStoreErr maps store failures onto HTTP responses. NotFound
// becomes 404, a gated store 503, anything else a generic 500 so internal
// detail never leaks to clients.
func (s *Server) translateStoreErr(c echo.Context, id string, err error) error {
	switch {
	case errors.Is(err, rulebank.ErrRuleNotFound):
		return c.JSON(http.StatusNotFound, NotFoundResponse{Message: "not_found", ID: id})
	case errors.Is(err, rulebank.ErrStoreGated):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store is not accepting writes")
	default:
		s.logger.Error("store operation failed", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleAddRule(c echo.Context) error {
	var req RuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" || req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title and content are required")
	}

	stored, outcome, err := s.store.Add(req.toRule(), req.dedupEnabled(), req.Upsert)
	if err != nil {
		return s.translateStoreErr(c, "", err)
	}
	if outcome == rulebank.AddDeduplicated {
		return c.JSON(http.StatusOK, stored)
	}
	return c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleGetRule(c echo.Context) error {
	id := c.Param("id")
	rule, err := s.store.Get(id)
	if err != nil {
		return s.translateStoreErr(c, id, err)
	}
	return c.JSON(http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(c echo.Context) error {
	id := c.Param("id")
	var patch rulebank.Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	updated, err := s.store.Update(id, patch)
	if err != nil {
		return s.translateStoreErr(c, id, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(c echo.Context) error {
	id := c.Param("id")
	if err := s.store.Delete(id); err != nil {
		return s.translateStoreErr(c, id, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
}

// SearchResponse is the response body for rule and candidate listings.
type SearchResponse struct {
	Items []rulebank.Rule `json:"items"`
	Count int             `json:"count"`
}

func searchQueryFromParams(c echo.Context) rulebank.SearchQuery {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit == 0 {
		limit = 50
	}
	return rulebank.SearchQuery{
		Text:     c.QueryParam("q"),
		Tag:      c.QueryParam("tag"),
		Category: c.QueryParam("category"),
		Status:   c.QueryParam("status"),
		Limit:    limit,
	}
}

func (s *Server) handleSearchRules(c echo.Context) error {
	items := s.store.Search(searchQueryFromParams(c))
	return c.JSON(http.StatusOK, SearchResponse{Items: items, Count: len(items)})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Stats())
}

func (s *Server) handleAddCandidate(c echo.Context) error {
	var req RuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" || req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title and content are required")
	}

	stored, outcome, err := s.store.AddCandidate(req.toRule(), req.dedupEnabled(), req.Upsert)
	if err != nil {
		return s.translateStoreErr(c, "", err)
	}
	if outcome == rulebank.AddDeduplicated {
		return c.JSON(http.StatusOK, stored)
	}
	return c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleListCandidates(c echo.Context) error {
	items := s.store.ListCandidates(searchQueryFromParams(c))
	return c.JSON(http.StatusOK, SearchResponse{Items: items, Count: len(items)})
}

func (s *Server) handleApproveCandidate(c echo.Context) error {
	id := c.Param("id")
	rule, err := s.store.Approve(id)
	if err != nil {
		return s.translateStoreErr(c, id, err)
	}
	return c.JSON(http.StatusOK, rule)
}

func (s *Server) handleRejectCandidate(c echo.Context) error {
	id := c.Param("id")
	rule, err := s.store.Reject(id)
	if err != nil {
		return s.translateStoreErr(c, id, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// ExportResponse is the response body for GET /snapshot/export.
type ExportResponse struct {
	Items        []rulebank.Rule        `json:"items,omitempty"`
	ItemsCompact []rulebank.CompactRule `json:"items_compact,omitempty"`
	Count        int                    `json:"count"`
}

func (s *Server) handleExportSnapshot(c echo.Context) error {
	rules := s.store.ListAll()

	compact := c.QueryParam("compact") != "false"
	if compact {
		items := make([]rulebank.CompactRule, 0, len(rules))
		for _, r := range rules {
			items = append(items, r.ToCompact())
		}
		return c.JSON(http.StatusOK, ExportResponse{ItemsCompact: items, Count: len(items)})
	}
	return c.JSON(http.StatusOK, ExportResponse{Items: rules, Count: len(rules)})
}

// ImportRequest is the request body for POST /snapshot/import. Either the
// verbose or the compact item array may be supplied.
type ImportRequest struct {
	Items        []rulebank.Rule        `json:"items"`
	ItemsCompact []rulebank.CompactRule `json:"items_compact"`
	Upsert       bool                   `json:"upsert"`
	Dedup        *bool                  `json:"dedup"`
}

// ImportResponse is the response body for POST /snapshot/import.
type ImportResponse struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
}

func (s *Server) handleImportSnapshot(c echo.Context) error {
	var req ImportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rules := req.Items
	for _, item := range req.ItemsCompact {
		rules = append(rules, rulebank.FromCompact(item))
	}

	dedup := true
	if req.Dedup != nil {
		dedup = *req.Dedup
	}

	imported, duplicates, err := s.store.ImportBatch(rules, req.Upsert, dedup)
	if err != nil {
		if errors.Is(err, rulebank.ErrEmptyImport) {
			return echo.NewHTTPError(http.StatusBadRequest, "import batch is empty")
		}
		return s.translateStoreErr(c, "", err)
	}
	return c.JSON(http.StatusOK, ImportResponse{Imported: imported, Duplicates: duplicates})
}

func (s *Server) handleGetHarvestConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, s.harvester.Config())
}

func (s *Server) handleSetHarvestConfig(c echo.Context) error {
	var cfg rulebank.HarvestConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	s.harvester.SetConfig(cfg)
	return c.JSON(http.StatusOK, s.harvester.Config())
}

func (s *Server) handleHarvest(c echo.Context) error {
	if !s.harvestLimiter.Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "harvest already in progress")
	}

	result, err := s.harvester.Harvest()
	if err != nil {
		return s.translateStoreErr(c, "", err)
	}
	return c.JSON(http.StatusOK, result)
}
