package sync_ingestion_inbox

import (
	"context"

	"github.com/yungbote/docrag-backend/internal/ingestion/inbox"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

type Pipeline struct {
	log    *logger.Logger
	syncer Syncer
}

func New(baseLog *logger.Logger, syncer Syncer) *Pipeline {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Pipeline{
		log:    baseLog.With("job", inbox.SyncJobType),
		syncer: syncer,
	}
}

func (p *Pipeline) Type() string { return inbox.SyncJobType }
