package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/service"
)

type auditor interface {
	Audit(ctx context.Context) (*service.AuditReport, error)
}

type IndexAuditJob struct {
	index auditor
}

func NewIndexAuditJob(index auditor) *IndexAuditJob {
	return &IndexAuditJob{index: index}
}

func (j *IndexAuditJob) Name() string {
	return "index_audit"
}

func (j *IndexAuditJob) Run(ctx context.Context) error {
	if j.index == nil {
		return nil
	}
	report, err := j.index.Audit(ctx)
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx).With(
		zap.Int("indexed", report.Indexed),
		zap.Int64("stored", report.Stored),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int64("missing", report.Missing),
	)
	if len(report.Orphans) > 0 || report.Missing > 0 {
		logger.Warn("index diverges from stored chunks, rebuild recommended")
		return nil
	}
	logger.Info("index audit clean")
	return nil
}
