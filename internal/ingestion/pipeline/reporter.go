package pipeline

import (
	"context"

	"github.com/yungbote/docrag-backend/internal/domain"
)

// Reporter receives progress for one ingestion run. Implementations must not
// fail the run: persistence problems are theirs to log.
type Reporter interface {
	// Restart marks the beginning of an attempt (1-based).
	Restart(ctx context.Context, attempt int)
	Advance(ctx context.Context, stage domain.Stage, processed int)
	SetTotal(ctx context.Context, total int)
	Fail(ctx context.Context, detail string)
}

type NopReporter struct{}

func (NopReporter) Restart(context.Context, int) {}
func (NopReporter) Advance(context.Context, domain.Stage, int) {}
func (NopReporter) SetTotal(context.Context, int) {}
func (NopReporter) Fail(context.Context, string) {}
