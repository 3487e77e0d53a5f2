package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"docqa/internal/app"
	"docqa/internal/model"
	"docqa/internal/transport/http/response"
)

// DocQAService is the part of app.DocQAService the handlers call.
type DocQAService interface {
	ProcessDocument(ctx context.Context, path string) (*app.IngestResult, error)
	ProcessURL(ctx context.Context, rawURL string) (*app.IngestResult, error)
	Query(ctx context.Context, input app.QueryInput) (*app.QueryResult, error)
	Collections(ctx context.Context) ([]model.Collection, error)
}

// multipartOverhead is the room left for boundaries and part headers on top of
// the upload size limit.
const multipartOverhead = 64 << 10

type DocQAHandler struct {
	service        DocQAService
	maxUploadBytes int64
}

type ProcessURLRequest struct {
	URL string `json:"url"`
}

type QueryRequest struct {
	Query   string `json:"query"`
	IndexID string `json:"index_id"`
	Mode    string `json:"mode"`
}

func NewDocQAHandler(service DocQAService, maxUploadBytes int64) *DocQAHandler {
	return &DocQAHandler{service: service, maxUploadBytes: maxUploadBytes}
}

// ProcessDocument accepts a multipart form with "file", saves it to a private temp
// dir for the duration of the request and indexes it.
func (h *DocQAHandler) ProcessDocument(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusBadRequest, "file too large")
			return
		}
		response.Error(c, http.StatusBadRequest, "No file uploaded")
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		response.Error(c, http.StatusBadRequest, "file too large")
		return
	}

	tmpDir, err := os.MkdirTemp("", "docqa-upload-*")
	if err != nil {
		log.Printf("create upload dir failed: %v", err)
		response.Error(c, http.StatusInternalServerError, "failed to save upload")
		return
	}
	defer os.RemoveAll(tmpDir)

	dst := filepath.Join(tmpDir, uploadName(file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		log.Printf("save upload failed: %v", err)
		response.Error(c, http.StatusInternalServerError, "failed to save upload")
		return
	}

	result, err := h.service.ProcessDocument(c.Request.Context(), dst)
	if err != nil {
		writeServiceError(c, "process_document", err)
		return
	}
	response.OK(c, gin.H{
		"collection_name": result.CollectionName,
		"document_count":  result.DocumentCount,
		"chunk_count":     result.ChunkCount,
	})
}

func (h *DocQAHandler) ProcessURL(c *gin.Context) {
	var req ProcessURLRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		response.Error(c, http.StatusBadRequest, "No URL provided")
		return
	}

	result, err := h.service.ProcessURL(c.Request.Context(), req.URL)
	if err != nil {
		writeServiceError(c, "process_url", err)
		return
	}
	response.OK(c, gin.H{
		"collection_name": result.CollectionName,
		"document_count":  result.DocumentCount,
		"chunk_count":     result.ChunkCount,
	})
}

func (h *DocQAHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil ||
		strings.TrimSpace(req.Query) == "" || strings.TrimSpace(req.IndexID) == "" {
		response.Error(c, http.StatusBadRequest, "Missing query or index_id")
		return
	}

	result, err := h.service.Query(c.Request.Context(), app.QueryInput{
		Query:   req.Query,
		IndexID: req.IndexID,
		Mode:    req.Mode,
	})
	if err != nil {
		writeServiceError(c, "query", err)
		return
	}
	response.OK(c, gin.H{
		"response":   result.Answer,
		"mode":       result.Mode,
		"sources":    result.Sources,
		"evaluation": result.Evaluation,
	})
}

func (h *DocQAHandler) Collections(c *gin.Context) {
	list, err := h.service.Collections(c.Request.Context())
	if err != nil {
		writeServiceError(c, "collections", err)
		return
	}
	if list == nil {
		list = []model.Collection{}
	}
	response.OK(c, gin.H{"collections": list})
}

// writeServiceError maps the error kind to a status code. Only the public message
// reaches the client.
func writeServiceError(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrIngest):
		status = http.StatusBadRequest
	case errors.Is(err, app.ErrCollectionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, app.ErrGeneration):
		status = http.StatusBadGateway
	}
	log.Printf("%s failed: %v", op, err)
	response.Error(c, status, app.PublicMessage(err))
}

func uploadName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "upload"
	}
	return base
}
