package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/http/response"
	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/apierr"
	"github.com/yungbote/docrag-backend/internal/services"
)

type RetrievalHandler struct {
	retrieval services.RetrievalService
}

func NewRetrievalHandler(retrieval services.RetrievalService) *RetrievalHandler {
	return &RetrievalHandler{retrieval: retrieval}
}

type retrieveRequest struct {
	Query      string        `json:"query"`
	TopK       int           `json:"top_k"`
	Principals []string      `json:"principals"`
	Filter     *index.Filter `json:"filter"`
}

type retrieveResult struct {
	ID         string          `json:"id"`
	Text       string          `json:"text"`
	Source     string          `json:"source"`
	DocumentID string          `json:"document_id,omitempty"`
	Score      *float64        `json:"score"`
	Metadata   domain.Metadata `json:"metadata"`
}

// POST /v1/retrieve
func (h *RetrievalHandler) Retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidRequest, err)
		return
	}
	if req.TopK < 0 || req.TopK > services.MaxTopK {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidTopK,
			fmt.Errorf("top_k must be between 1 and %d", services.MaxTopK))
		return
	}
	chunks, err := h.retrieval.Retrieve(c.Request.Context(), req.Query, req.TopK, req.Principals, req.Filter)
	if err != nil {
		response.RespondAPIError(c, err, http.StatusInternalServerError, apierr.CodeRetrievalFailed)
		return
	}
	out := make([]retrieveResult, 0, len(chunks))
	for _, ch := range chunks {
		md := ch.Metadata
		if md == nil {
			md = domain.Metadata{}
		}
		out = append(out, retrieveResult{
			ID:         ch.ID,
			Text:       ch.Text,
			Source:     ch.Source,
			DocumentID: ch.DocumentID,
			Score:      ch.Score,
			Metadata:   md,
		})
	}
	response.RespondOK(c, gin.H{"results": out})
}

