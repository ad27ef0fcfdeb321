package services

import (
	"context"
	"errors"
	"strings"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/apierr"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/retrieval"
)

const MaxTopK = 20

var ErrEmptyQuery = errors.New("query must not be empty")

type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]domain.DocumentChunk, error)
}

type RetrievalConfig struct {
	EnablePermissionFilters bool
	PublicPrincipal         string
}

type RetrievalService interface {
	Retrieve(ctx context.Context, query string, topK int, principals []string, filter *index.Filter) ([]domain.DocumentChunk, error)
}

type retrievalService struct {
	log       *logger.Logger
	retriever Retriever
	cfg       RetrievalConfig
}

func NewRetrievalService(baseLog *logger.Logger, retriever Retriever, cfg RetrievalConfig) RetrievalService {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	if strings.TrimSpace(cfg.PublicPrincipal) == "" {
		cfg.PublicPrincipal = domain.DefaultPublicPrincipal
	}
	return &retrievalService{
		log:       baseLog.With("service", "RetrievalService"),
		retriever: retriever,
		cfg:       cfg,
	}
}

func (s *retrievalService) Retrieve(ctx context.Context, query string, topK int, principals []string, filter *index.Filter) ([]domain.DocumentChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apierr.BadRequest(apierr.CodeInvalidQuery, ErrEmptyQuery)
	}
	if filter != nil {
		if err := filter.Validate(); err != nil {
			return nil, apierr.BadRequest(apierr.CodeInvalidFilter, err)
		}
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	out, err := s.retriever.Retrieve(ctx, retrieval.Query{
		Text:       query,
		TopK:       topK,
		Principals: s.effectivePrincipals(principals),
		Filter:     filter,
	})
	if err != nil {
		s.log.Warn("Retrieval failed", "error", err, "top_k", topK)
		return nil, apierr.Upstream(apierr.CodeRetrievalFailed, err)
	}
	return out, nil
}

// effectivePrincipals applies the permission policy: with filters on, an
// anonymous caller only sees public documents; with filters off nobody is
// filtered.
func (s *retrievalService) effectivePrincipals(principals []string) []string {
	if !s.cfg.EnablePermissionFilters {
		return nil
	}
	return domain.NormalizePrincipals(principals, s.cfg.PublicPrincipal)
}
