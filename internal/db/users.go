package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository resolves upstream subjects to local users.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(gdb *gorm.DB) *UserRepository {
	return &UserRepository{db: gdb}
}

// EnsureBySubject returns the user for subject, creating it on first
// login. The insert is conflict-tolerant so concurrent callbacks for the
// same subject converge on one row.
func (r *UserRepository) EnsureBySubject(ctx context.Context, subject string) (*User, error) {
	user := User{
		ID:              uuid.NewString(),
		ExternalSubject: subject,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_subject"}},
			DoNothing: true,
		}).
		Create(&user).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	var existing User
	if err := r.db.WithContext(ctx).
		Where("external_subject = ?", subject).
		First(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to load user by subject: %w", err)
	}
	return &existing, nil
}

// Ping verifies the underlying database connection, for readiness checks.
func (r *UserRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// GetByID loads a user, returning (nil, nil) when absent.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}
