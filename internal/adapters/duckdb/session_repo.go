package duckdb

import (
	"context"
	"database/sql"
	"time"

	"agentcron/internal/core/domain"
)

func (r *Repository) CreateSession(ctx context.Context, sess domain.Session) error {
	query := `INSERT INTO sessions (id, user_id, agent_id, task_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.AgentID, sess.TaskID, sess.Title, sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (r *Repository) GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	query := `SELECT id, user_id, agent_id, task_id, title, created_at, updated_at FROM sessions WHERE id = ?`
	var s domain.Session
	var idStr, userStr, agentStr string
	var taskID, title sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&idStr, &userStr, &agentStr, &taskID, &title, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, err
	}
	s.ID = domain.SessionID(idStr)
	s.UserID = domain.UserID(userStr)
	s.AgentID = domain.AgentID(agentStr)
	s.TaskID = domain.TaskID(taskID.String)
	s.Title = title.String
	return s, nil
}

func (r *Repository) AppendMessage(ctx context.Context, msg domain.Message) error {
	query := `INSERT INTO messages (id, session_id, role, content, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.RunID, msg.CreatedAt); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), msg.SessionID)
	return err
}

// HasRunMessage is the idempotence check guarding duplicate prompt insertion
// on retry against a reused session.
func (r *Repository) HasRunMessage(ctx context.Context, sessionID domain.SessionID, runID domain.RunID) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND run_id = ?`,
		sessionID, runID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) LastAssistantMessage(ctx context.Context, sessionID domain.SessionID) (*domain.Message, error) {
	query := `SELECT id, session_id, role, content, run_id, created_at FROM messages
		WHERE session_id = ? AND role = 'assistant' ORDER BY created_at DESC LIMIT 1`
	var m domain.Message
	var idStr, sessStr, roleStr string
	var runID sql.NullString
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&idStr, &sessStr, &roleStr, &m.Content, &runID, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m.ID = domain.MessageID(idStr)
	m.SessionID = domain.SessionID(sessStr)
	m.Role = domain.MessageRole(roleStr)
	m.RunID = domain.RunID(runID.String)
	return &m, nil
}
