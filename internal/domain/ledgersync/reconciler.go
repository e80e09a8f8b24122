package ledgersync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ledgerlink/internal/domain/connection"
	"ledgerlink/internal/domain/transaction"
	"ledgerlink/internal/infrastructure/ledger"
)

// PageResult accumulates counts for one applied page.
type PageResult struct {
	Added    int
	Modified int
	Removed  int
	Skipped  int // pending, unparsable, or constraint-rejected records
}

// Reconciler applies one page of provider changes to local storage. Added and
// modified records share a single upsert path keyed on (external id, user),
// so replaying a page leaves storage unchanged.
type Reconciler struct {
	txRepo transaction.Repository
	log    *logrus.Logger
}

func NewReconciler(txRepo transaction.Repository, log *logrus.Logger) *Reconciler {
	return &Reconciler{txRepo: txRepo, log: log}
}

// ApplyPage processes a page's added, modified and removed lists in delivery
// order: removals come last so a remove for an id added earlier in the same
// page lands after the upsert. Record-level failures are logged and skipped;
// a storage failure aborts the page and is surfaced to the orchestrator.
func (r *Reconciler) ApplyPage(ctx context.Context, conn *connection.Connection, page *ledger.SyncResponse) (PageResult, error) {
	var result PageResult

	for i := range page.Added {
		applied, err := r.applyRecord(ctx, conn, &page.Added[i])
		if err != nil {
			return result, err
		}
		if applied {
			result.Added++
		} else {
			result.Skipped++
		}
	}

	for i := range page.Modified {
		applied, err := r.applyRecord(ctx, conn, &page.Modified[i])
		if err != nil {
			return result, err
		}
		if applied {
			result.Modified++
		} else {
			result.Skipped++
		}
	}

	for _, removed := range page.Removed {
		deleted, err := r.txRepo.DeleteByExternalID(ctx, conn.UserID, removed.ID)
		if err != nil {
			return result, fmt.Errorf("failed to delete transaction %s: %w", removed.ID, err)
		}
		if deleted {
			result.Removed++
		}
	}

	return result, nil
}

// applyRecord upserts a single record. The returned bool reports whether the
// record was materialized; a non-nil error means storage is unreachable and
// the whole page must be abandoned.
func (r *Reconciler) applyRecord(ctx context.Context, conn *connection.Connection, rec *ledger.Record) (bool, error) {
	// Pending records are provisional at the source and may still change
	// non-idempotently; only settled records are materialized.
	if rec.Pending {
		return false, nil
	}

	amount, err := rec.GetAmount()
	if err != nil {
		r.recordSkip(conn, rec.ID, err)
		return false, nil
	}

	date, err := rec.GetDate()
	if err != nil {
		r.recordSkip(conn, rec.ID, err)
		return false, nil
	}
	if date == nil {
		r.recordSkip(conn, rec.ID, errors.New("record has no date"))
		return false, nil
	}

	_, err = r.txRepo.Upsert(ctx, transaction.UpsertParams{
		ID:           uuid.New().String(),
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		ExternalID:   rec.ID,
		Amount:       amount.Abs(), // sign is normalized away at ingestion
		Description:  rec.Description,
		MerchantName: rec.MerchantName,
		Date:         *date,
		Category:     categoryFor(rec),
		Recurring:    transaction.LikelyRecurring(rec.Description),
	})
	if err != nil {
		if errors.Is(err, transaction.ErrConstraint) {
			r.recordSkip(conn, rec.ID, err)
			return false, nil
		}
		return false, fmt.Errorf("failed to upsert transaction %s: %w", rec.ID, err)
	}

	return true, nil
}

// categoryFor passes through the source's own classification when present,
// falling back to the legacy single-label category, falling back to absent.
func categoryFor(rec *ledger.Record) *string {
	if rec.PersonalFinanceCategory != nil && rec.PersonalFinanceCategory.Primary != "" {
		primary := rec.PersonalFinanceCategory.Primary
		return &primary
	}
	if rec.Category != nil && *rec.Category != "" {
		return rec.Category
	}
	return nil
}

func (r *Reconciler) recordSkip(conn *connection.Connection, externalID string, err error) {
	r.log.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"user_id":       conn.UserID,
		"external_id":   externalID,
	}).WithError(err).Warn("Skipping record")
}
