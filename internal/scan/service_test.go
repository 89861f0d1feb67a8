package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L1nMay/vulnorch/internal/auth"
	"github.com/L1nMay/vulnorch/internal/config"
	"github.com/L1nMay/vulnorch/internal/gvm"
	"github.com/L1nMay/vulnorch/internal/model"
	"github.com/L1nMay/vulnorch/internal/storage"
)

var (
	alice = auth.User{ID: "alice", OrgID: "org1", Role: "user", Permissions: []string{auth.PermAssetAccess}}
	bob   = auth.User{ID: "bob", OrgID: "org2", Role: "user", Permissions: []string{auth.PermAssetAccess}}
	root  = auth.User{ID: "root", OrgID: "org0", Role: auth.RoleAdmin}
)

func newTestService(t *testing.T, eng *fakeEngine) (*Service, *storage.Storage) {
	t.Helper()
	r, store := newTestRunner(t, eng)

	for _, a := range []model.Asset{
		{ID: "a-1", OrgID: "org1", Name: "web", IP: "10.0.0.5"},
		{ID: "a-2", OrgID: "org1", Name: "api", URL: "https://api.example.com"},
		{ID: "a-3", OrgID: "org1", Name: "printer"},
		{ID: "b-1", OrgID: "org2", Name: "db", IP: "10.1.0.7"},
	} {
		require.NoError(t, store.PutAsset(a))
	}

	return NewService(config.Default(), r, eng, store, store), store
}

func TestListScannableAssets(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{})

	assets, err := svc.ListScannableAssets(alice)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "api", assets[0].Name)
	assert.Equal(t, "web", assets[1].Name)

	none, err := svc.ListScannableAssets(auth.User{ID: "carol", OrgID: "org9"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStartScanErrors(t *testing.T) {
	t.Run("no assets", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeEngine{})
		_, err := svc.StartScan(context.Background(), auth.User{ID: "carol", OrgID: "org9"}, nil)
		assert.ErrorIs(t, err, ErrNoAssets)
	})

	t.Run("engine unavailable", func(t *testing.T) {
		svc, store := newTestService(t, &fakeEngine{versionErr: &gvm.AdapterError{Command: "get_version", ExitCode: 1, Stderr: "Failed to connect"}})
		_, err := svc.StartScan(context.Background(), alice, nil)
		assert.ErrorIs(t, err, ErrEngineUnavailable)

		hist, err := store.ListScansByOwner(alice.ID)
		require.NoError(t, err)
		assert.Empty(t, hist, "no record is created when the pre-check fails")
	})

	t.Run("unknown asset id", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeEngine{})
		_, err := svc.StartScan(context.Background(), alice, []string{"b-1"})
		assert.ErrorIs(t, err, ErrInvalidAsset)
	})

	t.Run("bad asset address", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeEngine{})
		_, err := svc.StartAssets(context.Background(), alice, []model.Asset{{Name: "bad", IP: "999.1.1.1/99"}})
		assert.ErrorIs(t, err, ErrInvalidAsset)
	})
}

func TestStartScanSubset(t *testing.T) {
	svc, store := newTestService(t, &fakeEngine{})

	rec, err := svc.StartScan(context.Background(), alice, []string{"a-2", "a-2"})
	require.NoError(t, err)
	require.Len(t, rec.Assets, 1)
	assert.Equal(t, "a-2", rec.Assets[0].ID)

	waitStatus(t, store, rec.ID, model.StatusRunning)
}

func TestOwnershipIsEnforced(t *testing.T) {
	eng := &fakeEngine{}
	svc, store := newTestService(t, eng)

	var (
		wg         sync.WaitGroup
		aliceScan  *model.ScanRecord
		bobScan    *model.ScanRecord
		aErr, bErr error
	)
	wg.Add(2)
	go func() { defer wg.Done(); aliceScan, aErr = svc.StartScan(context.Background(), alice, nil) }()
	go func() { defer wg.Done(); bobScan, bErr = svc.StartScan(context.Background(), bob, nil) }()
	wg.Wait()
	require.NoError(t, aErr)
	require.NoError(t, bErr)

	got, err := svc.Status(alice, aliceScan.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)

	_, err = svc.Status(alice, bobScan.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Status(bob, aliceScan.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Results(bob, aliceScan.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.Cancel(bob, aliceScan.ID), ErrForbidden)

	_, err = svc.Status(root, bobScan.ID)
	assert.NoError(t, err)

	_, err = svc.Status(alice, "scan_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	waitStatus(t, store, aliceScan.ID, model.StatusRunning)
}

func TestResultsNotFoundUntilCompleted(t *testing.T) {
	eng := &fakeEngine{}
	svc, store := newTestService(t, eng)

	rec, err := svc.StartScan(context.Background(), alice, []string{"a-1"})
	require.NoError(t, err)
	waitStatus(t, store, rec.ID, model.StatusRunning)

	_, err = svc.Results(alice, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	eng.setStates(gvm.TaskState{Status: gvm.TaskDone})
	waitStatus(t, store, rec.ID, model.StatusCompleted)

	rep, err := svc.Results(alice, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, rep.ScanID)

	status, err := svc.Status(alice, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, status.Results)
}

func TestServiceCancel(t *testing.T) {
	svc, store := newTestService(t, &fakeEngine{})

	rec, err := svc.StartScan(context.Background(), alice, nil)
	require.NoError(t, err)
	waitStatus(t, store, rec.ID, model.StatusRunning)

	require.NoError(t, svc.Cancel(alice, rec.ID))
	assert.ErrorIs(t, svc.Cancel(alice, rec.ID), ErrInvalidState)

	got, err := svc.Status(alice, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
}

func TestHistoryNewestFirstOwnOnly(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{})

	base := time.Now().UTC()
	var tick int64
	svc.runner.now = func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Minute)
	}

	first, err := svc.StartScan(context.Background(), alice, []string{"a-1"})
	require.NoError(t, err)
	second, err := svc.StartScan(context.Background(), alice, []string{"a-2"})
	require.NoError(t, err)
	_, err = svc.StartScan(context.Background(), bob, nil)
	require.NoError(t, err)

	hist, err := svc.History(alice)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, second.ID, hist[0].ID)
	assert.Equal(t, first.ID, hist[1].ID)
	for _, h := range hist {
		assert.Equal(t, "alice", h.OwnerID)
	}
}

func TestTestConnection(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{})
	res := svc.TestConnection(context.Background())
	assert.True(t, res.OK)
	assert.Equal(t, "22.4", res.Version)

	down, _ := newTestService(t, &fakeEngine{versionErr: errors.New("socket missing")})
	res = down.TestConnection(context.Background())
	assert.False(t, res.OK)
	assert.Contains(t, res.Details, "socket missing")
}

func TestWatchStreamsOwnScan(t *testing.T) {
	eng := &fakeEngine{}
	svc, _ := newTestService(t, eng)

	rec, err := svc.StartScan(context.Background(), alice, []string{"a-1"})
	require.NoError(t, err)

	_, _, err = svc.Watch(bob, rec.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	updates, stop, err := svc.Watch(alice, rec.ID)
	require.NoError(t, err)
	defer stop()

	select {
	case p := <-updates:
		assert.Equal(t, rec.ID, p.ScanID)
	case <-time.After(2 * time.Second):
		t.Fatal("no progress update")
	}
}
