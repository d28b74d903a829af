package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"

	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

const chunkInsertBatch = 200

var chunkColumns = []string{"id", "source_id", "ord", "content", "ctime"}

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ReplaceForSource drops every chunk of sourceID and stores chunks in one
// transaction. Chunk IDs are filled in on success.
func (r *ChunkRepo) ReplaceForSource(ctx context.Context, sourceID int64, chunks []*model.Chunk) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = $1`, sourceID); err != nil {
			return err
		}
		for start := 0; start < len(chunks); start += chunkInsertBatch {
			end := min(start+chunkInsertBatch, len(chunks))
			if err := insertChunks(ctx, tx, sourceID, chunks[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertChunks(ctx context.Context, q queryer, sourceID int64, chunks []*model.Chunk) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO chunks (source_id, ord, content, embedding, ctime) VALUES ")
	args := make([]interface{}, 0, len(chunks)*5)
	byOrder := make(map[int]*model.Chunk, len(chunks))
	for i, ch := range chunks {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		ch.SourceID = sourceID
		args = append(args, sourceID, ch.Order, ch.Content, pq.Float64Array(ch.Embedding), ch.Ctime)
		byOrder[ch.Order] = ch
	}
	sb.WriteString(" RETURNING id, ord")
	rows, err := q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  int64
			ord int
		)
		if err := rows.Scan(&id, &ord); err != nil {
			return err
		}
		if ch, ok := byOrder[ord]; ok {
			ch.ID = id
		}
	}
	return rows.Err()
}

// UpdateEmbeddings overwrites the stored vector of each chunk.
func (r *ChunkRepo) UpdateEmbeddings(ctx context.Context, chunks []*model.Chunk) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE chunks SET embedding = $1 WHERE id = $2`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, ch := range chunks {
			if _, err := stmt.ExecContext(ctx, pq.Float64Array(ch.Embedding), ch.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ChunkRepo) GetByID(ctx context.Context, id int64) (*model.Chunk, error) {
	items, err := r.query(ctx, map[string]interface{}{"id": id, "_limit": []uint{0, 1}})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return items[0], nil
}

// ListByIDs loads chunks without embeddings. Missing ids are skipped.
func (r *ChunkRepo) ListByIDs(ctx context.Context, ids []int64) ([]*model.Chunk, error) {
	if len(ids) == 0 {
		return []*model.Chunk{}, nil
	}
	query, args, err := dbutil.ExpandIn(`SELECT id, source_id, ord, content, ctime FROM chunks WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows, false)
}

func (r *ChunkRepo) ListBySource(ctx context.Context, sourceID int64, offset, limit int) ([]*model.Chunk, int64, error) {
	items, err := r.query(ctx, map[string]interface{}{
		"source_id": sourceID,
		"_orderby":  "ord asc",
		"_limit":    []uint{uint(offset), uint(limit)},
	})
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM chunks WHERE source_id = $1`, sourceID).Scan(&total); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListProcessedAfter pages, by id, through chunks of active processed
// sources with their embeddings.
func (r *ChunkRepo) ListProcessedAfter(ctx context.Context, afterID int64, limit int) ([]*model.Chunk, error) {
	const query = `
		SELECT c.id, c.source_id, c.ord, c.content, c.ctime, c.embedding
		FROM chunks c
		JOIN sources s ON s.id = c.source_id
		WHERE s.state = 'processed' AND s.active AND c.id > $1
		ORDER BY c.id ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows, true)
}

func (r *ChunkRepo) CountProcessed(ctx context.Context) (int64, error) {
	const query = `
		SELECT COUNT(1)
		FROM chunks c
		JOIN sources s ON s.id = c.source_id
		WHERE s.state = 'processed' AND s.active
	`
	var total int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// SearchableIDs reports which of ids belong to active processed sources.
func (r *ChunkRepo) SearchableIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := dbutil.ExpandIn(`
		SELECT c.id FROM chunks c
		JOIN sources s ON s.id = c.source_id
		WHERE s.state = 'processed' AND s.active AND c.id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (r *ChunkRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, appErr.ErrNotFound)
}

func (r *ChunkRepo) DeleteBySource(ctx context.Context, sourceID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = $1`, sourceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ChunkRepo) query(ctx context.Context, where map[string]interface{}) ([]*model.Chunk, error) {
	sqlStr, args, err := builder.BuildSelect("chunks", where, chunkColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows, false)
}

func scanChunks(rows *sql.Rows, withEmbedding bool) ([]*model.Chunk, error) {
	items := make([]*model.Chunk, 0)
	for rows.Next() {
		var ch model.Chunk
		dest := []interface{}{&ch.ID, &ch.SourceID, &ch.Order, &ch.Content, &ch.Ctime}
		var embedding pq.Float64Array
		if withEmbedding {
			dest = append(dest, &embedding)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if withEmbedding {
			ch.Embedding = []float64(embedding)
		}
		items = append(items, &ch)
	}
	return items, rows.Err()
}
