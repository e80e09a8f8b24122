package connection

import (
	"time"
)

// Status tracks where a connection is in its sync lifecycle.
// error is not terminal: the next sync attempt re-enters syncing.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// Connection represents one linked financial-institution relationship via the
// ledger provider. One connection can cover multiple accounts at the same
// bank; the provider identifies it by ItemID.
type Connection struct {
	ID           string     `json:"id"`
	UserID       int64      `json:"userId"`
	AccessToken  string     `json:"-"` // opaque provider credential, never serialized
	ItemID       string     `json:"itemId"`
	Cursor       *string    `json:"-"`
	Status       Status     `json:"status"`
	ErrorDetail  *string    `json:"errorDetail,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// CursorValue returns the stored cursor, or "" when the connection has never
// completed a page (which makes the next fetch a full initial sync).
func (c *Connection) CursorValue() string {
	if c.Cursor == nil {
		return ""
	}
	return *c.Cursor
}
