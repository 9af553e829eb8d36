// Package db provides durable storage for local users and audit events,
// backed by SQLite through GORM.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// User maps an upstream-derived subject to a stable local identity. The
// subject is unique; repeat logins of the same upstream account resolve to
// the same row.
type User struct {
	ID              string    `gorm:"primaryKey"`
	ExternalSubject string    `gorm:"uniqueIndex;not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// AuditEvent is an append-only record of a tool invocation or auth event.
type AuditEvent struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"index;not null"`
	EventType string    `gorm:"not null"`
	Status    string    `gorm:"not null"`
	Detail    string    // optional JSON payload
	CreatedAt time.Time `gorm:"index;not null"`
}

// Open opens (creating if needed) the SQLite database at path and runs
// migrations. Use ":memory:" for an ephemeral database.
func Open(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	if err := gdb.AutoMigrate(&User{}, &AuditEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return gdb, nil
}
