package connection

import (
	"context"
)

// CreateParams holds the fields needed to register a new connection after a
// successful credential exchange with the provider.
type CreateParams struct {
	UserID      int64
	AccessToken string
	ItemID      string
}

// Repository defines storage operations for connections. Cursor and status
// are only ever written through the sync-specific methods below so that the
// connection row stays the synchronization point between concurrent syncs.
type Repository interface {
	// GetByID returns nil, nil when no connection exists.
	GetByID(ctx context.Context, id string) (*Connection, error)
	ListActiveByUserID(ctx context.Context, userID int64) ([]*Connection, error)
	// ListActiveUserIDs returns the distinct users that have at least one
	// active connection, used by the scheduler to build its job batch.
	ListActiveUserIDs(ctx context.Context) ([]int64, error)
	Create(ctx context.Context, params CreateParams) (*Connection, error)
	// Deactivate soft-deletes; sync never hard-deletes a connection.
	Deactivate(ctx context.Context, id string) error

	// BeginSync flips status to syncing only if no other sync holds the
	// connection. Returns false when the connection is already syncing
	// (and not stale) or inactive.
	BeginSync(ctx context.Context, id string) (bool, error)
	// UpdateCursor persists the cursor after a fully reconciled page.
	UpdateCursor(ctx context.Context, id string, cursor string) error
	// CompleteSync records the final cursor, clears any prior error detail
	// and stamps last_synced_at.
	CompleteSync(ctx context.Context, id string, cursor string) error
	// MarkError records a failure without touching the cursor.
	MarkError(ctx context.Context, id string, detail string) error
}
