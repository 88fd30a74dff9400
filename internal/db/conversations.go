package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RichardoC/office-gpt/internal/models"
	"go.uber.org/zap"
)

// CreateConversation inserts an empty conversation owned by userID. It returns
// ErrNotFound when the user does not exist.
func (db *Database) CreateConversation(ctx context.Context, userID int64, title, model string) (*models.Conversation, error) {
	if _, err := db.GetUser(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up user %d: %w", userID, err)
	}

	ts := now()
	query := db.rebind(`
        INSERT INTO conversations (user_id, title, model, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        RETURNING id`)

	conv := &models.Conversation{
		UserID:    userID,
		Title:     title,
		Model:     model,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := db.db.QueryRowContext(ctx, query, userID, title, model, ts, ts).Scan(&conv.ID); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (db *Database) ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	query := db.rebind(`
        SELECT id, title
        FROM conversations
        WHERE user_id = ?
        ORDER BY created_at DESC, id DESC`)

	rows, err := db.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var c models.ConversationSummary
		if err := rows.Scan(&c.ID, &c.Title); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (db *Database) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	query := db.rebind(`
        SELECT id, user_id, title, model, created_at, updated_at
        FROM conversations
        WHERE id = ?`)

	var c models.Conversation
	err := db.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.UserID, &c.Title, &c.Model, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %d: %w", id, err)
	}
	return &c, nil
}

// GetConversationDetail returns the conversation with every message, oldest
// first.
func (db *Database) GetConversationDetail(ctx context.Context, id int64) (*models.Conversation, error) {
	conv, err := db.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	query := db.rebind(`
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, id ASC`)
	rows, err := db.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for conversation %d: %w", id, err)
	}
	defer rows.Close()

	conv.Messages, err = scanMessages(rows)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (db *Database) UpdateConversationTitle(ctx context.Context, id int64, title string) error {
	query := db.rebind("UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?")
	res, err := db.db.ExecContext(ctx, query, title, now(), id)
	if err != nil {
		return fmt.Errorf("failed to update title of conversation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes the conversation and, through the cascading
// foreign key, its messages. It reports whether a row was deleted.
func (db *Database) DeleteConversation(ctx context.Context, id int64) (bool, error) {
	res, err := db.db.ExecContext(ctx, db.rebind("DELETE FROM conversations WHERE id = ?"), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		db.logger.Debug("delete matched no conversation", zap.Int64("conversationId", id))
	}
	return n > 0, nil
}
