package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/shelfd/internal/query"
	"github.com/fyrsmithlabs/shelfd/internal/store"
)

// ListSyncStatusesResponse is the response body for GET /api/vector-sync/collections.
type ListSyncStatusesResponse struct {
	Statuses []store.SyncStatus `json:"statuses"`
	Count    int                `json:"count"`
}

func (s *Server) handleEnableSync(c echo.Context) error {
	status, err := s.usecase.EnableSync(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleDisableSync(c echo.Context) error {
	status, err := s.usecase.DisableSync(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleSyncNow(c echo.Context) error {
	status, err := s.usecase.SyncNow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleSyncStatus(c echo.Context) error {
	status, err := s.usecase.SyncStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleListSyncStatuses(c echo.Context) error {
	statuses, err := s.usecase.ListSyncStatuses(c.Request().Context())
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, ListSyncStatusesResponse{Statuses: statuses, Count: len(statuses)})
}

func (s *Server) handleDeleteVectors(c echo.Context) error {
	status, err := s.usecase.DeleteVectors(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// VectorSearchRequest is the request body for POST /api/vector-sync/search.
type VectorSearchRequest struct {
	Query               string            `json:"query"`
	Collection          string            `json:"collection,omitempty"`
	Limit               int               `json:"limit,omitempty"`
	SimilarityThreshold *float64          `json:"similarity_threshold,omitempty"`
	Filter              map[string]string `json:"filter,omitempty"`
	ExpandContext       bool              `json:"expand_context,omitempty"`
}

func (s *Server) handleVectorSearch(c echo.Context) error {
	var req VectorSearchRequest
	if err := c.Bind(&req); err != nil {
		return s.invalidBody(c, err)
	}

	ctx, cancel := withTimeout(c.Request().Context(), s.searchTimeout)
	defer cancel()

	resp, err := s.usecase.VectorSearch(ctx, query.SearchRequest{
		Query:               req.Query,
		Collection:          req.Collection,
		Limit:               req.Limit,
		SimilarityThreshold: req.SimilarityThreshold,
		Filter:              req.Filter,
		ExpandContext:       req.ExpandContext,
	})
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
