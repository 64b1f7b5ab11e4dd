// Package transcript provides local persistence of conversation history.
package transcript

import (
	"context"
	"time"

	"github.com/kravishan/neuroclimabot-docker-sub001/internal/api"
)

// Exchange is one persisted conversation turn.
type Exchange struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Sources   []api.Source
	CreatedAt time.Time
}

// Store defines the interface for persisting conversation exchanges.
type Store interface {
	// RecordExchange appends one turn to the transcript.
	RecordExchange(ctx context.Context, sessionID, role, content string, sources []api.Source) error

	// ListExchanges returns up to limit exchanges for a session, oldest
	// first. limit <= 0 means no limit.
	ListExchanges(ctx context.Context, sessionID string, limit int) ([]*Exchange, error)

	// DeleteConversation removes all exchanges for a session.
	DeleteConversation(ctx context.Context, sessionID string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
