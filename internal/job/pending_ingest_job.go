package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type pendingProcessor interface {
	ProcessPending(ctx context.Context, limit int) (int, error)
}

// PendingIngestJob processes sources still waiting for ingestion.
type PendingIngestJob struct {
	ingest pendingProcessor
	batch  int
}

func NewPendingIngestJob(ingest pendingProcessor, batch int) *PendingIngestJob {
	if batch <= 0 {
		batch = 10
	}
	return &PendingIngestJob{ingest: ingest, batch: batch}
}

func (j *PendingIngestJob) Name() string {
	return "pending_ingest"
}

func (j *PendingIngestJob) Run(ctx context.Context) error {
	if j.ingest == nil {
		return nil
	}
	n, err := j.ingest.ProcessPending(ctx, j.batch)
	if n > 0 {
		logutil.GetLogger(ctx).Info("pending sources processed", zap.Int("count", n))
	}
	return err
}
