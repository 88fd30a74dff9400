package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/RichardoC/office-gpt/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// DefaultUserID is the account the browser client acts as until real
// sessions exist.
const DefaultUserID int64 = 1

// SeedDefaultUser creates the admin account with id DefaultUserID. It returns
// false without touching the table when that account already exists.
func (db *Database) SeedDefaultUser(ctx context.Context, username, password string) (bool, error) {
	existing, err := db.GetUser(ctx, DefaultUserID)
	if err == nil {
		db.logger.Info("default user already exists, seeding not required",
			zap.Int64("userId", existing.ID),
			zap.String("username", existing.Username))
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("failed to look up default user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &models.User{
		ID:           DefaultUserID,
		Username:     username,
		PasswordHash: string(hash),
		Role:         "admin",
	}
	if err := db.CreateUser(ctx, user); err != nil {
		return false, err
	}
	db.logger.Info("seeded default user", zap.Int64("userId", user.ID), zap.String("username", username))
	return true, nil
}
