package store

import (
	"context"
	"errors"

	"github.com/lucidbard/canvas-author/internal/models"
)

// Sentinel errors the engine maps onto its typed taxonomy.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrItemNotFound    = errors.New("item not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionArchived = errors.New("session is archived")
	ErrAlreadyArchived = errors.New("session already archived")
)

// EvalFunc recomputes an item's status inside the append transaction,
// after the new pass is part of the item's history.
type EvalFunc func(item *models.ItemReview) models.ItemStatus

// Store defines the persistence interface for review sessions.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *models.ReviewSession) error
	GetSession(ctx context.Context, sessionID string) (*models.ReviewSession, error)
	ListSessions(ctx context.Context, includeArchived bool) ([]*models.ReviewSession, error)
	SessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)
	ArchiveSession(ctx context.Context, sessionID, mergedBy, mergeRef string) error

	// Items and passes
	AppendPass(ctx context.Context, sessionID, itemID string, meta models.ItemMeta, pass *models.ReviewPass, eval EvalFunc) (*models.ItemReview, error)
	GetItem(ctx context.Context, sessionID, itemID string) (*models.ItemReview, error)
	Escalate(ctx context.Context, sessionID, itemID string, esc *models.Escalation) error

	// Cross-session queries
	GetItemHistory(ctx context.Context, itemID string, includeArchived bool) ([]*models.HistoryEntry, error)
	ListConflicts(ctx context.Context, sessionID string) ([]*models.HistoryEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
