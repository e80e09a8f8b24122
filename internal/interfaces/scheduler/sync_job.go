package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"ledgerlink/internal/domain/connection"
	"ledgerlink/internal/domain/ledgersync"
)

// UserSyncJob syncs all of one user's active connections.
type UserSyncJob struct {
	userID      int64
	syncService *ledgersync.Service
}

func NewUserSyncJob(userID int64, syncService *ledgersync.Service) *UserSyncJob {
	return &UserSyncJob{
		userID:      userID,
		syncService: syncService,
	}
}

// Execute runs the sync. A user whose connections disappeared between batch
// build and execution is a no-op; connections that errored surface as a job
// failure so the run is visible in job metrics, even though their state is
// already recorded on the connection rows.
func (j *UserSyncJob) Execute(ctx context.Context) error {
	result, err := j.syncService.SyncUser(ctx, j.userID, "")
	if err != nil {
		if errors.Is(err, ledgersync.ErrNoActiveConnections) {
			return nil
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	failed := 0
	for _, report := range result.Connections {
		if report.Status == connection.StatusError {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("sync completed with %d failed connections", failed)
	}

	return nil
}

// UserID returns the user ID associated with this job
func (j *UserSyncJob) UserID() string {
	return strconv.FormatInt(j.userID, 10)
}

// Description returns a human-readable description of the job
func (j *UserSyncJob) Description() string {
	return fmt.Sprintf("Transaction sync for user %d", j.userID)
}

// BatchProvider builds one sync job per user with at least one active
// connection.
func BatchProvider(connRepo connection.Repository, syncService *ledgersync.Service) func(ctx context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		userIDs, err := connRepo.ListActiveUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list users with active connections: %w", err)
		}

		jobs := make([]Job, 0, len(userIDs))
		for _, userID := range userIDs {
			jobs = append(jobs, NewUserSyncJob(userID, syncService))
		}
		return jobs, nil
	}
}
