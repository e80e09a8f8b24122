package transaction

import (
	"context"
	"errors"
)

// ErrConstraint marks a record-level storage rejection (constraint class).
// The reconciler logs and skips these; any other storage error aborts the
// page being applied.
var ErrConstraint = errors.New("transaction violates a storage constraint")

// Repository defines the storage collaborator for transactions. Upsert and
// DeleteByExternalID are both keyed on (user id, external id), which is what
// makes page replay idempotent under at-least-once delivery.
type Repository interface {
	Upsert(ctx context.Context, params UpsertParams) (*Transaction, error)
	// DeleteByExternalID reports whether a row was removed; deleting a
	// missing row is a no-op, not an error.
	DeleteByExternalID(ctx context.Context, userID int64, externalID string) (bool, error)
	ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*Transaction, error)
}
