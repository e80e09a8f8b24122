package scheduler

import (
	"context"
)

// Job is a unit of work processed by the worker pool.
type Job interface {
	Execute(ctx context.Context) error
	UserID() string
	Description() string
}
