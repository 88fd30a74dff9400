package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RichardoC/office-gpt/internal/models"
)

// SaveMessage appends a message and fills in its ID and CreatedAt.
func (db *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	ts := now()
	query := db.rebind(`
        INSERT INTO messages (conversation_id, role, content, created_at)
        VALUES (?, ?, ?, ?)
        RETURNING id`)

	if err := db.db.QueryRowContext(ctx, query, msg.ConvID, msg.Role, msg.Content, ts).Scan(&msg.ID); err != nil {
		return fmt.Errorf("failed to save %s message: %w", msg.Role, err)
	}
	msg.CreatedAt = ts
	return nil
}

// HasMessages reports whether the conversation holds at least one message.
func (db *Database) HasMessages(ctx context.Context, conversationID int64) (bool, error) {
	query := db.rebind(`SELECT 1 FROM messages WHERE conversation_id = ? LIMIT 1`)

	var one int
	err := db.db.QueryRowContext(ctx, query, conversationID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to probe messages of conversation %d: %w", conversationID, err)
	}
	return true, nil
}

// RecentMessages returns the newest limit messages of the conversation in
// chronological order.
func (db *Database) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	query := db.rebind(`
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?`)

	rows, err := db.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
