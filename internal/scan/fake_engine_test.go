package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/L1nMay/vulnorch/internal/config"
	"github.com/L1nMay/vulnorch/internal/gvm"
	"github.com/L1nMay/vulnorch/internal/model"
	"github.com/L1nMay/vulnorch/internal/storage"
)

type fakeEngine struct {
	mu sync.Mutex

	versionErr error
	targetErr  error
	taskErr    error
	startErr   error
	statusErr  error
	reportErr  error

	// states are returned in order per task, the last one repeating
	states      []gvm.TaskState
	findings    []gvm.Finding
	panicOnPoll bool

	nextID  int
	hosts   []string
	polls   map[string]int
	stopped []string
}

func (f *fakeEngine) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeEngine) Version(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.versionErr != nil {
		return "", f.versionErr
	}
	return "22.4", nil
}

func (f *fakeEngine) CreateTarget(ctx context.Context, name, hosts, portListID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.targetErr != nil {
		return "", f.targetErr
	}
	f.hosts = append(f.hosts, hosts)
	return f.newID("target"), nil
}

func (f *fakeEngine) CreateTask(ctx context.Context, name, targetID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taskErr != nil {
		return "", f.taskErr
	}
	return f.newID("task"), nil
}

func (f *fakeEngine) StartTask(ctx context.Context, taskID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	return "report-" + taskID, nil
}

func (f *fakeEngine) TaskStatus(ctx context.Context, taskID string) (gvm.TaskState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnPoll {
		panic("boom")
	}
	if f.statusErr != nil {
		return gvm.TaskState{}, f.statusErr
	}
	if f.polls == nil {
		f.polls = make(map[string]int)
	}
	n := f.polls[taskID]
	f.polls[taskID]++

	if len(f.states) == 0 {
		return gvm.TaskState{Status: "Running", Progress: 10}, nil
	}
	if n >= len(f.states) {
		n = len(f.states) - 1
	}
	return f.states[n], nil
}

func (f *fakeEngine) StopTask(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, taskID)
	return nil
}

func (f *fakeEngine) Report(ctx context.Context, reportID string) ([]gvm.Finding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return f.findings, nil
}

func (f *fakeEngine) stoppedTasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

func (f *fakeEngine) setStates(states ...gvm.TaskState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = states
}

func newTestRunner(t *testing.T, eng *fakeEngine) (*Runner, *storage.Storage) {
	t.Helper()

	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := NewRunner(config.Default(), eng, store)
	r.pollInterval = 5 * time.Millisecond
	r.maxDuration = 5 * time.Second
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r, store
}

func waitStatus(t *testing.T, store storage.ScanStore, id string, want model.ScanStatus) *model.ScanRecord {
	t.Helper()
	var rec *model.ScanRecord
	require.Eventually(t, func() bool {
		r, err := store.GetScan(id)
		if err != nil {
			return false
		}
		rec = r
		return r.Status == want
	}, 5*time.Second, 5*time.Millisecond, "scan %s never reached %s", id, want)
	return rec
}

var webAsset = model.Asset{ID: "a-1", OrgID: "org1", Name: "web", IP: "10.0.0.5"}
