package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/shelfd/internal/query"
)

// RAGQueryRequest is the request body for POST /api/query.
type RAGQueryRequest struct {
	Query               string            `json:"query"`
	Collection          string            `json:"collection,omitempty"`
	Limit               int               `json:"limit,omitempty"`
	SimilarityThreshold *float64          `json:"similarity_threshold,omitempty"`
	Filter              map[string]string `json:"filter,omitempty"`
}

func (s *Server) handleRAGQuery(c echo.Context) error {
	var req RAGQueryRequest
	if err := c.Bind(&req); err != nil {
		return s.invalidBody(c, err)
	}

	ctx, cancel := withTimeout(c.Request().Context(), s.ragTimeout)
	defer cancel()

	resp, err := s.usecase.RAGQuery(ctx, query.RAGRequest{
		Query:               req.Query,
		Collection:          req.Collection,
		Limit:               req.Limit,
		SimilarityThreshold: req.SimilarityThreshold,
		Filter:              req.Filter,
	})
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
