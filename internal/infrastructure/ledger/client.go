package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultTimeout = 60 * time.Second
	syncPath       = "/transactions/sync"

	// DefaultPageSize bounds memory and per-call latency; the cursor is the
	// entire continuation token between pages.
	DefaultPageSize = 500
)

// ErrRemoteUnavailable covers transport and auth failures talking to the
// provider. It never corrupts cursor state and is fully recoverable by
// retrying the sync later.
var ErrRemoteUnavailable = errors.New("ledger provider unavailable")

// Client handles communication with the remote ledger provider. It holds no
// sync state between calls.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new ledger provider client.
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: baseURL,
	}
}

type syncRequest struct {
	AccessToken string `json:"access_token"`
	Cursor      string `json:"cursor,omitempty"`
	Count       int    `json:"count"`
}

// SyncResponse is one page of changes since the presented cursor.
type SyncResponse struct {
	Added      []Record        `json:"added"`
	Modified   []Record        `json:"modified"`
	Removed    []RemovedRecord `json:"removed"`
	NextCursor string          `json:"next_cursor"`
	HasMore    bool            `json:"has_more"`
}

// Record represents a transaction change from the provider.
type Record struct {
	ID                      string                   `json:"id"`
	AmountString            string                   `json:"amount"` // may be signed, debits can come through negative
	DateString              string                   `json:"date"`   // "2006-01-02" or RFC 3339
	Description             string                   `json:"description"`
	MerchantName            *string                  `json:"merchant_name"`
	Pending                 bool                     `json:"pending"`
	Category                *string                  `json:"category"` // legacy single-label category
	PersonalFinanceCategory *PersonalFinanceCategory `json:"personal_finance_category,omitempty"`
}

// PersonalFinanceCategory is the provider's own classification of a record.
type PersonalFinanceCategory struct {
	Primary  string `json:"primary"`
	Detailed string `json:"detailed"`
}

// RemovedRecord identifies a transaction deleted at the source.
type RemovedRecord struct {
	ID string `json:"id"`
}

// GetAmount returns the amount as a decimal, sign included.
func (r *Record) GetAmount() (decimal.Decimal, error) {
	if r.AmountString == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(r.AmountString)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount '%s': %w", r.AmountString, err)
	}
	return amount, nil
}

// GetDate parses and returns the record date.
func (r *Record) GetDate() (*time.Time, error) {
	if r.DateString == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", r.DateString)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, r.DateString)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date '%s': %w", r.DateString, err)
		}
	}
	return &parsed, nil
}

// ErrorResponse represents an error response from the provider.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SyncTransactions fetches one page of changes since cursor. An empty cursor
// requests a full initial sync; count bounds the page size.
func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*SyncResponse, error) {
	if count <= 0 {
		count = DefaultPageSize
	}

	payload, err := json.Marshal(syncRequest{
		AccessToken: accessToken,
		Cursor:      cursor,
		Count:       count,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+syncPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrRemoteUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, fmt.Errorf("%w: status %d: %s", ErrRemoteUnavailable, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("%w: status %d: %s - %s", ErrRemoteUnavailable, resp.StatusCode, errResp.Error, errResp.Message)
	}

	var syncResp SyncResponse
	if err := json.Unmarshal(body, &syncResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync response: %w", err)
	}

	return &syncResp, nil
}
