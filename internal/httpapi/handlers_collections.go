package httpapi

import (
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/shelfd/internal/store"
)

// CreateCollectionRequest is the request body for POST /api/file-collections.
type CreateCollectionRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ListCollectionsResponse is the response body for GET /api/file-collections.
type ListCollectionsResponse struct {
	Collections []store.Collection `json:"collections"`
	Count       int                `json:"count"`
}

func (s *Server) handleCreateCollection(c echo.Context) error {
	var req CreateCollectionRequest
	if err := c.Bind(&req); err != nil {
		return s.invalidBody(c, err)
	}

	col, err := s.usecase.CreateCollection(c.Request().Context(), req.Name, req.Description, req.Metadata)
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, col)
}

func (s *Server) handleListCollections(c echo.Context) error {
	collections, err := s.usecase.ListCollections(c.Request().Context())
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, ListCollectionsResponse{Collections: collections, Count: len(collections)})
}

func (s *Server) handleGetCollection(c echo.Context) error {
	info, err := s.usecase.GetCollection(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// DeletedResponse confirms a delete operation.
type DeletedResponse struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

func (s *Server) handleDeleteCollection(c echo.Context) error {
	id := c.Param("id")
	if err := s.usecase.DeleteCollection(c.Request().Context(), id); err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, DeletedResponse{Deleted: true, ID: id})
}

// SaveFileRequest is the request body for POST /api/file-collections/{id}/files.
type SaveFileRequest struct {
	Folder    string `json:"folder,omitempty"`
	Filename  string `json:"filename"`
	Content   string `json:"content"`
	SourceURL string `json:"source_url,omitempty"`
}

// UpdateFileRequest is the request body for PUT /api/file-collections/{id}/files/{key}.
type UpdateFileRequest struct {
	Content string `json:"content"`
}

// ListFilesResponse is the response body for GET /api/file-collections/{id}/files.
type ListFilesResponse struct {
	Files []store.File `json:"files"`
	Count int          `json:"count"`
}

// splitFileKey splits a wildcard path "folder/name" into its folder and
// name parts. A key without a slash is a root-level file.
func splitFileKey(key string) (folder, name string) {
	folder, name = path.Split(key)
	return strings.TrimSuffix(folder, "/"), name
}

func (s *Server) handleSaveFile(c echo.Context) error {
	var req SaveFileRequest
	if err := c.Bind(&req); err != nil {
		return s.invalidBody(c, err)
	}

	file, err := s.usecase.SaveFile(c.Request().Context(), c.Param("id"), req.Folder, req.Filename, req.Content, req.SourceURL)
	if err != nil {
		return s.failure(c, err)
	}
	// Content already round-tripped to the caller; keep the reply small.
	file.Content = ""
	return c.JSON(http.StatusOK, file)
}

func (s *Server) handleReadFile(c echo.Context) error {
	folder, name := splitFileKey(c.Param("*"))
	file, err := s.usecase.ReadFile(c.Request().Context(), c.Param("id"), folder, name)
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, file)
}

func (s *Server) handleUpdateFile(c echo.Context) error {
	var req UpdateFileRequest
	if err := c.Bind(&req); err != nil {
		return s.invalidBody(c, err)
	}

	folder, name := splitFileKey(c.Param("*"))
	file, err := s.usecase.UpdateFile(c.Request().Context(), c.Param("id"), folder, name, req.Content)
	if err != nil {
		return s.failure(c, err)
	}
	file.Content = ""
	return c.JSON(http.StatusOK, file)
}

func (s *Server) handleDeleteFile(c echo.Context) error {
	folder, name := splitFileKey(c.Param("*"))
	if err := s.usecase.DeleteFile(c.Request().Context(), c.Param("id"), folder, name); err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, DeletedResponse{Deleted: true, ID: path.Join(folder, name)})
}

func (s *Server) handleListFiles(c echo.Context) error {
	files, err := s.usecase.ListFiles(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.failure(c, err)
	}
	return c.JSON(http.StatusOK, ListFilesResponse{Files: files, Count: len(files)})
}
