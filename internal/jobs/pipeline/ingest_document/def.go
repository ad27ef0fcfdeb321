package ingest_document

import (
	"context"

	"github.com/yungbote/docrag-backend/internal/ingestion/pipeline"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const JobType = "ingest_document"

type Ingester interface {
	Ingest(ctx context.Context, req pipeline.Request, rep pipeline.Reporter) (pipeline.Result, error)
}

type Pipeline struct {
	log      *logger.Logger
	ingester Ingester
}

func New(baseLog *logger.Logger, ingester Ingester) *Pipeline {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Pipeline{
		log:      baseLog.With("job", JobType),
		ingester: ingester,
	}
}

func (p *Pipeline) Type() string { return JobType }
