package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

type ChatRepo struct {
	db *sql.DB
}

func NewChatRepo(db *sql.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

func (r *ChatRepo) CreateSession(ctx context.Context, session *model.ChatSession) error {
	const query = `INSERT INTO chat_sessions (user_id, title, ctime) VALUES ($1, $2, $3) RETURNING id`
	return r.db.QueryRowContext(ctx, query, session.UserID, session.Title, session.Ctime).Scan(&session.ID)
}

func (r *ChatRepo) GetSession(ctx context.Context, userID string, id int64) (*model.ChatSession, error) {
	const query = `SELECT id, user_id, title, ctime FROM chat_sessions WHERE id = $1 AND user_id = $2`
	var s model.ChatSession
	if err := r.db.QueryRowContext(ctx, query, id, userID).Scan(&s.ID, &s.UserID, &s.Title, &s.Ctime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *ChatRepo) ListSessions(ctx context.Context, userID string, offset, limit int) ([]*model.ChatSession, error) {
	sqlStr, args, err := builder.BuildSelect("chat_sessions", map[string]interface{}{
		"user_id":  userID,
		"_orderby": "id desc",
		"_limit":   []uint{uint(offset), uint(limit)},
	}, []string{"id", "user_id", "title", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]*model.ChatSession, 0)
	for rows.Next() {
		var s model.ChatSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.Ctime); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

func (r *ChatRepo) UpdateTitle(ctx context.Context, userID string, id int64, title string) error {
	sqlStr, args, err := builder.BuildUpdate("chat_sessions",
		map[string]interface{}{"id": id, "user_id": userID},
		map[string]interface{}{"title": title},
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

// DeleteSession removes the session and, through the foreign key, its messages.
func (r *ChatRepo) DeleteSession(ctx context.Context, userID string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, appErr.ErrNotFound)
}

func (r *ChatRepo) AddMessage(ctx context.Context, msg *model.ChatMessage) error {
	const query = `
		INSERT INTO chat_messages (session_id, question, answer, model, ctime)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query, msg.SessionID, msg.Question, msg.Answer, msg.Model, msg.Ctime).Scan(&msg.ID)
	if err != nil && dbutil.IsForeignKeyViolation(err) {
		return appErr.ErrNotFound
	}
	return err
}

// ListMessages returns up to limit of the most recent messages, oldest first.
func (r *ChatRepo) ListMessages(ctx context.Context, sessionID int64, limit int) ([]*model.ChatMessage, error) {
	const query = `
		SELECT id, session_id, question, answer, model, ctime FROM (
			SELECT id, session_id, question, answer, model, ctime
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]*model.ChatMessage, 0)
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Question, &m.Answer, &m.Model, &m.Ctime); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}
