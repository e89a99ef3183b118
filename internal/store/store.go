// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/postreview/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// RecordStore reads and writes extracted records.
type RecordStore interface {
	// GetRecord retrieves a record with its edit history.
	GetRecord(ctx context.Context, id string) (*domain.Record, error)

	// PutRecord creates or replaces a record's fields.
	PutRecord(ctx context.Context, rec *domain.Record) error

	// UpdateRecord writes an approved edit: the record's new field values
	// and one edit-history row, atomically.
	UpdateRecord(ctx context.Context, rec *domain.Record, edit domain.EditEntry) error
}

// SessionStore persists review session snapshots.
type SessionStore interface {
	// SaveSession creates or replaces a snapshot.
	SaveSession(ctx context.Context, s *domain.Session) error

	// LoadSession returns nil, nil when no snapshot exists.
	LoadSession(ctx context.Context, id string) (*domain.Session, error)

	// DeleteIdleSessions removes snapshots last active before the cutoff.
	DeleteIdleSessions(ctx context.Context, before time.Time) (int64, error)
}

// LearningStore keeps reviewer corrections.
type LearningStore interface {
	// Learn records a correction and returns the entity categories that
	// gained at least one value not seen before.
	Learn(ctx context.Context, c domain.Correction) ([]string, error)

	// LearnedValues lists learned values for a category.
	LearnedValues(ctx context.Context, category string) ([]string, error)
}

// Repository is the full persistence surface.
type Repository interface {
	RecordStore
	SessionStore
	LearningStore

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
