package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/http/response"
	"github.com/yungbote/docrag-backend/internal/ingestion/extractor"
	"github.com/yungbote/docrag-backend/internal/platform/apierr"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/services"
)

const maxUploadBytes = 32 << 20

var errTextRequired = errors.New("text must not be empty")

type DocumentHandler struct {
	log       *logger.Logger
	ingestion services.IngestionService
}

func NewDocumentHandler(log *logger.Logger, ingestion services.IngestionService) *DocumentHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &DocumentHandler{log: log.With("handler", "DocumentHandler"), ingestion: ingestion}
}

type ingestRequest struct {
	DocumentID        string         `json:"document_id"`
	Text              string         `json:"text"`
	Source            string         `json:"source"`
	Metadata          map[string]any `json:"metadata"`
	AllowedPrincipals []string       `json:"allowed_principals"`
	ChunkSize         int            `json:"chunk_size"`
	ChunkOverlap      *int           `json:"chunk_overlap"`
}

// POST /v1/documents
func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidRequest, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidRequest, errTextRequired)
		return
	}
	h.enqueue(c, services.IngestInput{
		DocumentID:        req.DocumentID,
		Text:              req.Text,
		Source:            req.Source,
		Metadata:          domain.Metadata(req.Metadata),
		AllowedPrincipals: req.AllowedPrincipals,
		ChunkSize:         req.ChunkSize,
		ChunkOverlap:      req.ChunkOverlap,
	})
}

// POST /v1/documents/upload
//
// Multipart form: "file" (text, CSV/TSV, PDF or DOCX), optional
// "document_id", "source", "metadata" (JSON object) and
// "allowed_principals" (JSON list).
func (h *DocumentHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidMultipart, err)
		return
	}
	contentType := fh.Header.Get("Content-Type")
	if !extractor.Supported(fh.Filename, contentType) {
		response.RespondError(c, http.StatusUnsupportedMediaType, string(extractor.ErrorUnsupportedType),
			fmt.Errorf("unsupported file %q", fh.Filename))
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidFile, err)
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidFile, err)
		return
	}
	text, err := extractor.Extract(raw, fh.Filename, contentType)
	if err != nil {
		var exErr *extractor.Error
		switch {
		case errors.As(err, &exErr) && exErr.Unsupported():
			response.RespondError(c, http.StatusUnsupportedMediaType, string(exErr.Code), err)
		case errors.As(err, &exErr):
			response.RespondError(c, http.StatusBadRequest, string(exErr.Code), err)
		default:
			response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidFile, err)
		}
		return
	}
	if strings.TrimSpace(text) == "" {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidRequest, errTextRequired)
		return
	}

	md := domain.Metadata{}
	if v := strings.TrimSpace(c.PostForm("metadata")); v != "" {
		if err := json.Unmarshal([]byte(v), &md); err != nil {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidMetadata, err)
			return
		}
		if md == nil {
			md = domain.Metadata{}
		}
	}
	if _, ok := md["filename"]; !ok && strings.TrimSpace(fh.Filename) != "" {
		md["filename"] = filepath.Base(fh.Filename)
	}

	var principals []string
	if v := strings.TrimSpace(c.PostForm("allowed_principals")); v != "" {
		if err := json.Unmarshal([]byte(v), &principals); err != nil {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidPrincipal, err)
			return
		}
	}

	h.enqueue(c, services.IngestInput{
		DocumentID:        c.PostForm("document_id"),
		Text:              text,
		Source:            c.PostForm("source"),
		Metadata:          md,
		AllowedPrincipals: principals,
	})
}

func (h *DocumentHandler) enqueue(c *gin.Context, in services.IngestInput) {
	res, err := h.ingestion.Enqueue(c.Request.Context(), in)
	if err != nil {
		h.log.Warn("Ingestion enqueue failed", "document_id", in.DocumentID, "error", err)
		response.RespondAPIError(c, err, http.StatusInternalServerError, apierr.CodeEnqueueFailed)
		return
	}
	response.RespondAccepted(c, res)
}

// GET /v1/documents/status/:task_id
func (h *DocumentHandler) Status(c *gin.Context) {
	st, err := h.ingestion.Status(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		response.RespondAPIError(c, err, http.StatusInternalServerError, apierr.CodeLoadTaskFailed)
		return
	}
	response.RespondOK(c, st)
}
