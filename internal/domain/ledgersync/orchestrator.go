package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ledgerlink/internal/domain/connection"
	"ledgerlink/internal/infrastructure/ledger"
)

// ErrNoActiveConnections is returned when a sync request matches no active
// connection owned by the caller. It is a distinct outcome from a sync error:
// no state is mutated.
var ErrNoActiveConnections = errors.New("no active connections found")

var (
	syncTracer         = otel.Tracer("ledgerlink/sync")
	syncMeter          = otel.Meter("ledgerlink/sync")
	recordsApplied, _  = syncMeter.Int64Counter("sync.records.applied", metric.WithDescription("Transaction records applied by kind"))
	connectionTotal, _ = syncMeter.Int64Counter("sync.connection.total", metric.WithDescription("Connection syncs by outcome"))
	pageDuration, _    = syncMeter.Float64Histogram("sync.page.duration", metric.WithDescription("Per-page fetch+reconcile duration in seconds"), metric.WithUnit("s"))
)

// ConnectionReport is the per-connection slice of a sync result. A failed
// connection is visible here and through its persisted status, never through
// the overall call failing.
type ConnectionReport struct {
	ConnectionID string            `json:"connectionId"`
	Status       connection.Status `json:"status"`
	Added        int               `json:"added"`
	Modified     int               `json:"modified"`
	Removed      int               `json:"removed"`
	Skipped      int               `json:"skipped"`
	Pages        int               `json:"pages"`
	Error        string            `json:"error,omitempty"`
}

// Result aggregates counts across all connections that completed at least one
// page during a sync invocation.
type Result struct {
	Added       int                `json:"added"`
	Modified    int                `json:"modified"`
	Removed     int                `json:"removed"`
	Connections []ConnectionReport `json:"connections"`
}

// Service drives the fetch-reconcile loop per connection. Connections are
// processed sequentially and independently; pages within one connection are
// strictly ordered because each page's cursor depends on the previous one.
type Service struct {
	client     ledger.ClientInterface
	connRepo   connection.Repository
	reconciler *Reconciler
	pageSize   int
	retryBase  time.Duration
	log        *logrus.Logger
}

func NewService(client ledger.ClientInterface, connRepo connection.Repository, reconciler *Reconciler, pageSize int, log *logrus.Logger) *Service {
	if pageSize <= 0 {
		pageSize = ledger.DefaultPageSize
	}
	return &Service{
		client:     client,
		connRepo:   connRepo,
		reconciler: reconciler,
		pageSize:   pageSize,
		retryBase:  500 * time.Millisecond,
		log:        log,
	}
}

// SyncUser syncs all of a user's active connections, or a single one when
// connectionID is set. A connection that does not exist, is inactive, or
// belongs to another user yields ErrNoActiveConnections. One connection's
// failure is recorded against that connection only and never aborts its
// siblings; the returned counts cover the connections that made progress.
func (s *Service) SyncUser(ctx context.Context, userID int64, connectionID string) (*Result, error) {
	var conns []*connection.Connection

	if connectionID != "" {
		conn, err := s.connRepo.GetByID(ctx, connectionID)
		if err != nil {
			return nil, fmt.Errorf("failed to get connection: %w", err)
		}
		if conn == nil || conn.UserID != userID || !conn.Active {
			return nil, ErrNoActiveConnections
		}
		conns = append(conns, conn)
	} else {
		var err error
		conns, err = s.connRepo.ListActiveByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list connections: %w", err)
		}
		if len(conns) == 0 {
			return nil, ErrNoActiveConnections
		}
	}

	result := &Result{}
	for _, conn := range conns {
		report := s.syncConnection(ctx, conn)
		result.Added += report.Added
		result.Modified += report.Modified
		result.Removed += report.Removed
		result.Connections = append(result.Connections, report)

		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	s.log.WithFields(logrus.Fields{
		"user_id":     userID,
		"connections": len(result.Connections),
		"added":       result.Added,
		"modified":    result.Modified,
		"removed":     result.Removed,
	}).Info("Sync completed")

	return result, nil
}

// syncConnection runs the per-connection state machine:
// pending -> syncing -> {synced | error}. The cursor is only persisted after
// a page is fully reconciled, so a failed page N leaves the stored cursor at
// its page N-1 value.
func (s *Service) syncConnection(ctx context.Context, conn *connection.Connection) ConnectionReport {
	report := ConnectionReport{ConnectionID: conn.ID}

	ctx, span := syncTracer.Start(ctx, "sync.connection",
		trace.WithAttributes(
			attribute.String("connection.id", conn.ID),
			attribute.Int64("user.id", conn.UserID),
		),
	)
	defer span.End()

	acquired, err := s.connRepo.BeginSync(ctx, conn.ID)
	if err != nil {
		return s.failConnection(ctx, span, conn, report, fmt.Errorf("failed to acquire connection: %w", err))
	}
	if !acquired {
		s.log.WithField("connection_id", conn.ID).Info("Sync already in progress, skipping")
		report.Status = connection.StatusSyncing
		report.Error = "sync already in progress"
		connectionTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "skipped")))
		return report
	}

	cursor := conn.CursorValue()

	for {
		// Cancellation stops before the next fetch; cursor and status keep
		// their last persisted values.
		if err := ctx.Err(); err != nil {
			report.Status = connection.StatusSyncing
			report.Error = err.Error()
			return report
		}

		start := time.Now()

		page, err := s.fetchPage(ctx, conn.AccessToken, cursor)
		if err != nil {
			return s.failConnection(ctx, span, conn, report, err)
		}

		pageResult, err := s.reconciler.ApplyPage(ctx, conn, page)
		report.Added += pageResult.Added
		report.Modified += pageResult.Modified
		report.Removed += pageResult.Removed
		report.Skipped += pageResult.Skipped
		if err != nil {
			return s.failConnection(ctx, span, conn, report, err)
		}

		cursor = page.NextCursor
		if err := s.connRepo.UpdateCursor(ctx, conn.ID, cursor); err != nil {
			return s.failConnection(ctx, span, conn, report, fmt.Errorf("failed to persist cursor: %w", err))
		}
		report.Pages++
		pageDuration.Record(ctx, time.Since(start).Seconds())

		if !page.HasMore {
			break
		}
	}

	if err := s.connRepo.CompleteSync(ctx, conn.ID, cursor); err != nil {
		return s.failConnection(ctx, span, conn, report, fmt.Errorf("failed to complete sync: %w", err))
	}
	report.Status = connection.StatusSynced

	recordsApplied.Add(ctx, int64(report.Added), metric.WithAttributes(attribute.String("kind", "added")))
	recordsApplied.Add(ctx, int64(report.Modified), metric.WithAttributes(attribute.String("kind", "modified")))
	recordsApplied.Add(ctx, int64(report.Removed), metric.WithAttributes(attribute.String("kind", "removed")))
	connectionTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "synced")))

	s.log.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"user_id":       conn.UserID,
		"pages":         report.Pages,
		"added":         report.Added,
		"modified":      report.Modified,
		"removed":       report.Removed,
		"skipped":       report.Skipped,
	}).Info("Connection synced")

	return report
}

// fetchPage fetches one page with capped exponential backoff on transient
// provider failures. Anything else fails fast.
func (s *Service) fetchPage(ctx context.Context, accessToken, cursor string) (*ledger.SyncResponse, error) {
	var page *ledger.SyncResponse

	backoff := retry.WithMaxRetries(2, retry.NewExponential(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := s.client.SyncTransactions(ctx, accessToken, cursor, s.pageSize)
		if err != nil {
			if errors.Is(err, ledger.ErrRemoteUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		page = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	return page, nil
}

// failConnection records the failure on the connection and in the report.
// The stored cursor is left at its last completed value.
func (s *Service) failConnection(ctx context.Context, span trace.Span, conn *connection.Connection, report ConnectionReport, cause error) ConnectionReport {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	connectionTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))

	s.log.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"user_id":       conn.UserID,
	}).WithError(cause).Error("Connection sync failed")

	if err := s.connRepo.MarkError(ctx, conn.ID, cause.Error()); err != nil {
		s.log.WithField("connection_id", conn.ID).WithError(err).Error("Failed to record connection error")
	}

	report.Status = connection.StatusError
	report.Error = cause.Error()
	return report
}
