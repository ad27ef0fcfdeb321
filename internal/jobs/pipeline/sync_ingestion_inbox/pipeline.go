package sync_ingestion_inbox

import (
	jobrt "github.com/yungbote/docrag-backend/internal/jobs/runtime"
)

// Run scans the inbox once. Per-file errors are returned so the worker logs
// them; files that were queued before the error stay queued.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil {
		return nil
	}
	n, err := p.syncer.Sync(jc.Ctx)
	if err != nil {
		p.log.Warn("Inbox sync finished with errors", "queued", n, "error", err)
		return err
	}
	if n > 0 {
		p.log.Info("Inbox sync queued documents", "queued", n)
	}
	return nil
}
