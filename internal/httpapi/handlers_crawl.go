package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/shelfd/internal/crawl"
)

// ExtractRequest is the request body for POST /api/extract and
// POST /api/link-preview.
type ExtractRequest struct {
	URL string `json:"url"`
}

// DeepCrawlRequest is the request body for POST /api/deep-crawl.
type DeepCrawlRequest struct {
	URL      string `json:"url"`
	MaxDepth int    `json:"max_depth,omitempty"`
	MaxPages int    `json:"max_pages,omitempty"`
}

// DeepCrawlResponse is the response body for POST /api/deep-crawl.
type DeepCrawlResponse struct {
	Pages []crawl.Page `json:"pages"`
	Count int          `json:"count"`
}

// CrawlSingleRequest is the request body for POST /api/crawl/single/{id}.
type CrawlSingleRequest struct {
	URL    string `json:"url"`
	Folder string `json:"folder,omitempty"`
}

func (s *Server) handleExtract(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		return s.invalidBody(c, err)
	}

	page, err := s.usecase.ExtractPage(c.Request().Context(), req.URL)
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) handleDeepCrawl(c echo.Context) error {
	var req DeepCrawlRequest
	if err := c.Bind(&req); err != nil {
		return s.invalidBody(c, err)
	}

	pages, err := s.usecase.DeepCrawl(c.Request().Context(), req.URL, req.MaxDepth, req.MaxPages)
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, DeepCrawlResponse{Pages: pages, Count: len(pages)})
}

func (s *Server) handleLinkPreview(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		return s.invalidBody(c, err)
	}

	preview, err := s.usecase.PreviewLinks(c.Request().Context(), req.URL)
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, preview)
}

func (s *Server) handleCrawlSingle(c echo.Context) error {
	var req CrawlSingleRequest
	if err := c.Bind(&req); err != nil {
		return s.invalidBody(c, err)
	}

	file, err := s.usecase.CrawlIntoCollection(c.Request().Context(), c.Param("id"), req.Folder, req.URL)
	if err != nil {
		return s.failure(c, err)
	}
	file.Content = ""
	return c.JSON(http.StatusOK, file)
}
