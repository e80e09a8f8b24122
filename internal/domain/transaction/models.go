package transaction

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SourceSync   = "sync"
	SourceManual = "manual"
)

// Transaction is a locally materialized financial event. Rows are owned by
// the sync engine's upsert/delete path; (UserID, ExternalID) is the dedup key
// across repeated syncs and pagination boundaries.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       int64           `json:"userId"`
	ConnectionID string          `json:"connectionId"`
	ExternalID   string          `json:"externalId"`
	Amount       decimal.Decimal `json:"amount"` // always a non-negative magnitude
	Description  string          `json:"description"`
	MerchantName *string         `json:"merchantName,omitempty"`
	Date         time.Time       `json:"date"`
	Pending      bool            `json:"pending"`
	Source       string          `json:"source"`
	Category     *string         `json:"category,omitempty"`
	Recurring    bool            `json:"recurring"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// UpsertParams holds the fields written by the sync upsert path. ID is only
// used when the row does not exist yet; an existing row keeps its ID.
type UpsertParams struct {
	ID           string
	UserID       int64
	ConnectionID string
	ExternalID   string
	Amount       decimal.Decimal
	Description  string
	MerchantName *string
	Date         time.Time
	Category     *string
	Recurring    bool
}

var recurringHints = []string{
	"subscription",
	"monthly",
	"recurring",
	"netflix",
	"spotify",
	"membership",
	"insurance",
	"rent",
}

// LikelyRecurring is a cheap description heuristic applied at ingestion.
// It only sets a hint flag; it is not a classifier.
func LikelyRecurring(description string) bool {
	d := strings.ToLower(description)
	for _, hint := range recurringHints {
		if strings.Contains(d, hint) {
			return true
		}
	}
	return false
}
