package scan

import (
	"context"

	"github.com/L1nMay/vulnorch/internal/gvm"
)

// Engine is the subset of the GMP client the runner drives. *gvm.Client
// satisfies it.
type Engine interface {
	Version(ctx context.Context) (string, error)
	CreateTarget(ctx context.Context, name, hosts, portListID string) (string, error)
	CreateTask(ctx context.Context, name, targetID string) (string, error)
	StartTask(ctx context.Context, taskID string) (string, error)
	TaskStatus(ctx context.Context, taskID string) (gvm.TaskState, error)
	StopTask(ctx context.Context, taskID string) error
	Report(ctx context.Context, reportID string) ([]gvm.Finding, error)
}

var _ Engine = (*gvm.Client)(nil)
