package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RichardoC/office-gpt/internal/models"
)

const userColumns = `id, username, password_hash, role, COALESCE(theme_preference, ''), created_at, updated_at`

// CreateUser inserts a user. A non-zero user.ID is kept as the row id, which
// is how the placeholder account is seeded.
func (db *Database) CreateUser(ctx context.Context, user *models.User) error {
	if user.Role == "" {
		user.Role = "user"
	}
	if user.ThemePreference == "" {
		user.ThemePreference = "dark"
	}
	ts := now()

	var err error
	if user.ID != 0 {
		query := db.rebind(`
            INSERT INTO users (id, username, password_hash, role, theme_preference, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?)`)
		_, err = db.db.ExecContext(ctx, query, user.ID, user.Username, user.PasswordHash, user.Role, user.ThemePreference, ts, ts)
		if err == nil && db.driver == DriverPostgres {
			// Explicit ids do not advance the serial sequence.
			_, err = db.db.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('users', 'id'), (SELECT MAX(id) FROM users))`)
		}
	} else {
		query := db.rebind(`
            INSERT INTO users (username, password_hash, role, theme_preference, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?)
            RETURNING id`)
		err = db.db.QueryRowContext(ctx, query, user.Username, user.PasswordHash, user.Role, user.ThemePreference, ts, ts).Scan(&user.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create user %q: %w", user.Username, err)
	}
	user.CreatedAt = ts
	user.UpdatedAt = ts
	return nil
}

func (db *Database) GetUser(ctx context.Context, id int64) (*models.User, error) {
	query := db.rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	return db.scanUser(db.db.QueryRowContext(ctx, query, id))
}

func (db *Database) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := db.rebind(`SELECT ` + userColumns + ` FROM users WHERE username = ?`)
	return db.scanUser(db.db.QueryRowContext(ctx, query, username))
}

func (db *Database) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.ThemePreference, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
