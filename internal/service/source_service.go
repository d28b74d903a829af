package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

type SourceService struct {
	sources sourceStore
	chunks  chunkStore
	files   fileSaver
	ingest  *IngestService
}

func NewSourceService(sources sourceStore, chunks chunkStore, files fileSaver, ingest *IngestService) *SourceService {
	return &SourceService{sources: sources, chunks: chunks, files: files, ingest: ingest}
}

// Create registers a source in the pending state.
func (s *SourceService) Create(ctx context.Context, userID, name string, spec model.SourceSpec) (*model.Source, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: source spec is required", appErr.ErrInvalid)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", appErr.ErrInvalid, err.Error())
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultSourceName(spec)
	}
	now := time.Now().UnixMilli()
	src := &model.Source{
		ExternalID: uuid.NewString(),
		Name:       truncateRunes(name, 255),
		Type:       spec.Type(),
		Spec:       spec,
		State:      model.SourceStatePending,
		Active:     true,
		CreatedBy:  userID,
		UpdatedBy:  userID,
		Ctime:      now,
		Mtime:      now,
	}
	if err := s.sources.Create(ctx, src); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("source created",
		zap.Int64("source_id", src.ID), zap.String("type", string(src.Type)), zap.String("user_id", userID))
	return src, nil
}

// UploadPDF stores the file and registers it as a pdf source.
func (s *SourceService) UploadPDF(ctx context.Context, userID, fileName string, r io.Reader, size int64) (*model.Source, error) {
	if s.files == nil {
		return nil, fmt.Errorf("%w: file store is not configured", appErr.ErrInternal)
	}
	if !strings.EqualFold(path.Ext(fileName), ".pdf") {
		return nil, fmt.Errorf("%w: only pdf uploads are accepted", appErr.ErrInvalid)
	}
	key := "uploads/" + uuid.NewString() + ".pdf"
	if err := s.files.Save(ctx, key, r, size); err != nil {
		return nil, err
	}
	src, err := s.Create(ctx, userID, fileName, model.PdfSpec{FileKey: key, FileName: path.Base(fileName)})
	if err != nil {
		_ = s.files.Delete(context.WithoutCancel(ctx), key)
		return nil, err
	}
	return src, nil
}

func (s *SourceService) Get(ctx context.Context, externalID string) (*model.Source, error) {
	return s.sources.GetByExternalID(ctx, externalID)
}

func (s *SourceService) List(ctx context.Context, offset, limit int) ([]*model.Source, int64, error) {
	return s.sources.List(ctx, offset, limit)
}

// Delete removes the source and its chunks. Index entries of the removed
// chunks stay until the next rebuild and are dropped at query time.
func (s *SourceService) Delete(ctx context.Context, externalID string) error {
	src, err := s.sources.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if err := s.sources.Delete(ctx, src.ID); err != nil {
		return err
	}
	if spec, ok := src.Spec.(model.PdfSpec); ok && s.files != nil && strings.HasPrefix(spec.FileKey, "uploads/") {
		if err := s.files.Delete(ctx, spec.FileKey); err != nil {
			logutil.GetLogger(ctx).Warn("delete uploaded file failed", zap.String("key", spec.FileKey), zap.Error(err))
		}
	}
	logutil.GetLogger(ctx).Info("source deleted", zap.Int64("source_id", src.ID))
	return nil
}

func (s *SourceService) SetActive(ctx context.Context, userID, externalID string, active bool) error {
	src, err := s.sources.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	return s.sources.SetActive(ctx, src.ID, active, userID, time.Now().UnixMilli())
}

func (s *SourceService) Process(ctx context.Context, userID, externalID string) ([]model.Chunk, error) {
	src, err := s.sources.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.ingest.ProcessResource(ctx, src.ID, userID)
}

func (s *SourceService) ListChunks(ctx context.Context, externalID string, offset, limit int) ([]*model.Chunk, int64, error) {
	src, err := s.sources.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, 0, err
	}
	return s.chunks.ListBySource(ctx, src.ID, offset, limit)
}

func (s *SourceService) DeleteChunk(ctx context.Context, chunkID int64) error {
	return s.chunks.Delete(ctx, chunkID)
}

func defaultSourceName(spec model.SourceSpec) string {
	switch v := spec.(type) {
	case model.PdfSpec:
		if v.FileName != "" {
			return v.FileName
		}
		return path.Base(v.FileKey)
	case model.URLSpec:
		return v.Address
	case model.PostgresSpec:
		return fmt.Sprintf("%s/%s", v.Host, v.Database)
	default:
		return string(spec.Type())
	}
}
