package ingest_document

import (
	"fmt"
	"strings"

	"github.com/yungbote/docrag-backend/internal/ingestion/pipeline"
	jobrt "github.com/yungbote/docrag-backend/internal/jobs/runtime"
	"github.com/yungbote/docrag-backend/internal/tasks"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil {
		return nil
	}
	var in Payload
	if err := jc.Decode(&in); err != nil {
		jc.Fail("validate", err)
		return nil
	}
	if strings.TrimSpace(in.DocumentID) == "" {
		jc.Fail("validate", fmt.Errorf("missing document_id"))
		return nil
	}

	var rep pipeline.Reporter = pipeline.NopReporter{}
	if jc.Tasks != nil && jc.Job.TaskID != "" {
		rep = tasks.NewReporter(jc.Tasks, jc.Job.TaskID, p.log)
	}
	res, err := p.ingester.Ingest(jc.Ctx, pipeline.Request{
		TaskID:            jc.Job.TaskID,
		DocumentID:        in.DocumentID,
		Source:            in.Source,
		Text:              in.Text,
		Metadata:          in.DecodedMetadata(),
		AllowedPrincipals: in.AllowedPrincipals,
		ChunkSize:         in.ChunkSize,
		ChunkOverlap:      in.ChunkOverlap,
	}, rep)
	if err != nil {
		// The orchestrator has already recorded the failure on the task.
		p.log.Warn("Ingestion failed",
			"task_id", jc.Job.TaskID,
			"document_id", in.DocumentID,
			"attempts", res.Attempts,
			"error", err,
		)
		return nil
	}
	p.log.Info("Ingestion completed",
		"task_id", res.TaskID,
		"document_id", res.DocumentID,
		"chunks", res.Chunks,
		"replaced", res.Deleted,
		"attempts", res.Attempts,
	)
	return nil
}
