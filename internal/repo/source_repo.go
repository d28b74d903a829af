package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

var sourceColumns = []string{
	"id", "external_id", "name", "type", "spec_json", "state", "active", "last_error",
	"claimed_at", "created_by", "updated_by", "ctime", "mtime",
}

type SourceRepo struct {
	db *sql.DB
}

func NewSourceRepo(db *sql.DB) *SourceRepo {
	return &SourceRepo{db: db}
}

func (r *SourceRepo) Create(ctx context.Context, src *model.Source) error {
	spec, err := model.EncodeSpec(src.Spec)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"external_id": src.ExternalID,
		"name":        src.Name,
		"type":        string(src.Type),
		"spec_json":   string(spec),
		"state":       string(src.State),
		"active":      src.Active,
		"last_error":  src.LastError,
		"created_by":  src.CreatedBy,
		"updated_by":  src.UpdatedBy,
		"ctime":       src.Ctime,
		"mtime":       src.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("sources", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr+" RETURNING id", args)
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&src.ID); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *SourceRepo) GetByID(ctx context.Context, id int64) (*model.Source, error) {
	return r.getOne(ctx, map[string]interface{}{"id": id})
}

func (r *SourceRepo) GetByExternalID(ctx context.Context, externalID string) (*model.Source, error) {
	return r.getOne(ctx, map[string]interface{}{"external_id": externalID})
}

func (r *SourceRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.Source, error) {
	where["_limit"] = []uint{0, 1}
	items, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return items[0], nil
}

func (r *SourceRepo) List(ctx context.Context, offset, limit int) ([]*model.Source, int64, error) {
	items, err := r.query(ctx, map[string]interface{}{
		"_orderby": "id desc",
		"_limit":   []uint{uint(offset), uint(limit)},
	})
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sources`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListByState returns active sources in one of states, oldest first.
func (r *SourceRepo) ListByState(ctx context.Context, states []model.SourceState, limit int) ([]*model.Source, error) {
	in := make([]interface{}, 0, len(states))
	for _, st := range states {
		in = append(in, string(st))
	}
	where := map[string]interface{}{
		"state in": in,
		"active":   true,
		"_orderby": "id asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, uint(limit)}
	}
	return r.query(ctx, where)
}

func (r *SourceRepo) query(ctx context.Context, where map[string]interface{}) ([]*model.Source, error) {
	sqlStr, args, err := builder.BuildSelect("sources", where, sourceColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, src)
	}
	return items, rows.Err()
}

func scanSource(rows *sql.Rows) (*model.Source, error) {
	var (
		src      model.Source
		typ      string
		state    string
		specJSON string
	)
	if err := rows.Scan(&src.ID, &src.ExternalID, &src.Name, &typ, &specJSON, &state, &src.Active, &src.LastError,
		&src.ClaimedAt, &src.CreatedBy, &src.UpdatedBy, &src.Ctime, &src.Mtime); err != nil {
		return nil, err
	}
	src.Type = model.SourceType(typ)
	src.State = model.SourceState(state)
	spec, err := model.DecodeSpec(src.Type, []byte(specJSON))
	if err != nil {
		return nil, fmt.Errorf("decode spec of source %d: %w", src.ID, err)
	}
	src.Spec = spec
	return &src, nil
}

// Claim moves a source into processing. It succeeds for pending or failed
// sources and for processing claims older than staleBefore.
func (r *SourceRepo) Claim(ctx context.Context, id int64, userID string, now, staleBefore int64) (bool, error) {
	const query = `
		UPDATE sources
		SET state = 'processing', claimed_at = $2, updated_by = $3, mtime = $2, last_error = ''
		WHERE id = $1 AND active
		  AND (state IN ('pending', 'failed') OR (state = 'processing' AND claimed_at < $4))
	`
	res, err := r.db.ExecContext(ctx, query, id, now, userID, staleBefore)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *SourceRepo) MarkProcessed(ctx context.Context, id int64, userID string, now int64) error {
	const query = `
		UPDATE sources SET state = 'processed', updated_by = $2, mtime = $3, last_error = ''
		WHERE id = $1 AND state = 'processing'
	`
	res, err := r.db.ExecContext(ctx, query, id, userID, now)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, appErr.ErrConflict)
}

func (r *SourceRepo) MarkFailed(ctx context.Context, id int64, reason string, now int64) error {
	const query = `
		UPDATE sources SET state = 'failed', last_error = $2, mtime = $3
		WHERE id = $1 AND state = 'processing'
	`
	_, err := r.db.ExecContext(ctx, query, id, reason, now)
	return err
}

func (r *SourceRepo) SetActive(ctx context.Context, id int64, active bool, userID string, now int64) error {
	sqlStr, args, err := builder.BuildUpdate("sources",
		map[string]interface{}{"id": id},
		map[string]interface{}{"active": active, "updated_by": userID, "mtime": now},
	)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, appErr.ErrNotFound)
}

// Delete removes a source; its chunks go with it through the foreign key.
func (r *SourceRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, appErr.ErrNotFound)
}
