package ledger

import (
	"context"
)

// ClientInterface defines the methods required from the ledger provider client
type ClientInterface interface {
	SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*SyncResponse, error)
}
