package repository

import (
	"context"
	"errors"
	"fmt"

	"credential_verifier/internal/model"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type UserRepository interface {
	GetByUUID(ctx context.Context, uuid string) (*model.User, error)
	// UpdateVerificationFlags сохраняет is_active, verified_by_admin и verification_date
	UpdateVerificationFlags(ctx context.Context, user *model.User) error
}

type userRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewUserRepository(db DBTX, logger *zap.Logger) UserRepository {
	return &userRepository{
		db:     db,
		logger: logger,
	}
}

func (r *userRepository) GetByUUID(ctx context.Context, uuid string) (*model.User, error) {
	query := `
		SELECT uuid, email, first_name, last_name, roles, is_active, verified_by_admin, verification_date
		FROM users WHERE uuid = $1
	`

	var user model.User
	err := r.db.QueryRow(ctx, query, uuid).Scan(
		&user.UUID, &user.Email, &user.FirstName, &user.LastName, &user.Roles,
		&user.IsActive, &user.VerifiedByAdmin, &user.VerificationDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get user", zap.Error(err), zap.String("uuid", uuid))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

func (r *userRepository) UpdateVerificationFlags(ctx context.Context, user *model.User) error {
	query := `
		UPDATE users
		SET is_active = $2, verified_by_admin = $3, verification_date = $4
		WHERE uuid = $1
	`

	tag, err := r.db.Exec(ctx, query, user.UUID, user.IsActive, user.VerifiedByAdmin, user.VerificationDate)
	if err != nil {
		r.logger.Error("failed to update user verification flags", zap.Error(err), zap.String("uuid", user.UUID))
		return fmt.Errorf("failed to update user verification flags: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s not found", user.UUID)
	}

	return nil
}
