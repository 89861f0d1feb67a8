package storage

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L1nMay/vulnorch/internal/config"
	"github.com/L1nMay/vulnorch/internal/model"
)

type store interface {
	ScanStore
	AssetDirectory
}

func newBolt(t *testing.T) store {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRedis(t *testing.T) store {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends(t *testing.T, fn func(t *testing.T, s store)) {
	t.Run("bolt", func(t *testing.T) { fn(t, newBolt(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedis(t)) })
}

func record(id, owner string, start time.Time) *model.ScanRecord {
	return &model.ScanRecord{
		ID:         id,
		OwnerID:    owner,
		Status:     model.StatusStarting,
		Message:    "Initializing scan",
		Assets:     []model.Asset{{ID: "a-1", Name: "web", IP: "10.0.0.5"}},
		StartTime:  start,
		LastUpdate: start,
	}
}

func TestCreateAndGet(t *testing.T) {
	backends(t, func(t *testing.T, s store) {
		start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.CreateScan(record("scan_u1_a", "u1", start)))

		got, err := s.GetScan("scan_u1_a")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.OwnerID)
		assert.Equal(t, model.StatusStarting, got.Status)
		assert.True(t, start.Equal(got.StartTime))

		err = s.CreateScan(record("scan_u1_a", "u1", start))
		assert.True(t, errors.Is(err, ErrExists))
	})
}

func TestGetMissing(t *testing.T) {
	backends(t, func(t *testing.T, s store) {
		_, err := s.GetScan("nope")
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = s.GetResults("nope")
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = s.UpdateScan("nope", func(*model.ScanRecord) error { return nil })
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestUpdateStoresResultsSeparately(t *testing.T) {
	backends(t, func(t *testing.T, s store) {
		now := time.Now().UTC()
		require.NoError(t, s.CreateScan(record("scan_u1_b", "u1", now)))

		_, err := s.UpdateScan("scan_u1_b", func(r *model.ScanRecord) error {
			r.Status = model.StatusCompleted
			r.SetProgress(100)
			r.Results = &model.Report{ScanID: r.ID, Summary: model.ReportSummary{AssetsScanned: 1, ComplianceScore: 100}}
			return nil
		})
		require.NoError(t, err)

		got, err := s.GetScan("scan_u1_b")
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, got.Status)
		assert.Nil(t, got.Results)

		rep, err := s.GetResults("scan_u1_b")
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Summary.AssetsScanned)
	})
}

func TestResultsRequireCompleted(t *testing.T) {
	backends(t, func(t *testing.T, s store) {
		require.NoError(t, s.CreateScan(record("scan_u1_c", "u1", time.Now())))

		_, err := s.UpdateScan("scan_u1_c", func(r *model.ScanRecord) error {
			r.Status = model.StatusRunning
			r.Results = &model.Report{}
			return nil
		})
		require.Error(t, err)

		_, err = s.GetResults("scan_u1_c")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestTerminalRecordIsFrozen(t *testing.T) {
	backends(t, func(t *testing.T, s store) {
		require.NoError(t, s.CreateScan(record("scan_u1_d", "u1", time.Now())))

		_, err := s.UpdateScan("scan_u1_d", func(r *model.ScanRecord) error {
			r.Status = model.StatusCancelled
			r.Message = "Scan cancelled by user"
			return nil
		})
		require.NoError(t, err)

		called := false
		_, err = s.UpdateScan("scan_u1_d", func(r *model.ScanRecord) error {
			called = true
			r.Status = model.StatusCompleted
			return nil
		})
		assert.True(t, errors.Is(err, ErrTerminal))
		assert.False(t, called)

		got, err := s.GetScan("scan_u1_d")
		require.NoError(t, err)
		assert.Equal(t, model.StatusCancelled, got.Status)
	})
}

func TestUpdateKeepsIdentity(t *testing.T) {
	backends(t, func(t *testing.T, s store) {
		require.NoError(t, s.CreateScan(record("scan_u1_e", "u1", time.Now())))

		_, err := s.UpdateScan("scan_u1_e", func(r *model.ScanRecord) error {
			r.ID = "other"
			r.OwnerID = "u2"
			return nil
		})
		require.NoError(t, err)

		got, err := s.GetScan("scan_u1_e")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.OwnerID)
	})
}

func TestUpdateFnErrorAborts(t *testing.T) {
	backends(t, func(t *testing.T, s store) {
		require.NoError(t, s.CreateScan(record("scan_u1_f", "u1", time.Now())))

		boom := errors.New("boom")
		_, err := s.UpdateScan("scan_u1_f", func(r *model.ScanRecord) error {
			r.Status = model.StatusFailed
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.GetScan("scan_u1_f")
		require.NoError(t, err)
		assert.Equal(t, model.StatusStarting, got.Status)
	})
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	backends(t, func(t *testing.T, s store) {
		require.NoError(t, s.CreateScan(record("scan_u1_g", "u1", time.Now())))

		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				_, err := s.UpdateScan("scan_u1_g", func(r *model.ScanRecord) error {
					r.SetProgress(p)
					return nil
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := s.GetScan("scan_u1_g")
		require.NoError(t, err)
		assert.Equal(t, 20, got.Progress)
	})
}

func TestListScansByOwner(t *testing.T) {
	backends(t, func(t *testing.T, s store) {
		base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.CreateScan(record("scan_u1_1", "u1", base)))
		require.NoError(t, s.CreateScan(record("scan_u1_3", "u1", base.Add(2*time.Hour))))
		require.NoError(t, s.CreateScan(record("scan_u1_2", "u1", base.Add(time.Hour))))
		require.NoError(t, s.CreateScan(record("scan_u2_1", "u2", base.Add(3*time.Hour))))

		list, err := s.ListScansByOwner("u1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "scan_u1_3", list[0].ID)
		assert.Equal(t, "scan_u1_2", list[1].ID)
		assert.Equal(t, "scan_u1_1", list[2].ID)

		empty, err := s.ListScansByOwner("nobody")
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})
}

func TestAssets(t *testing.T) {
	backends(t, func(t *testing.T, s store) {
		require.NoError(t, s.PutAsset(model.Asset{ID: "a-1", OrgID: "org1", Name: "web", IP: "10.0.0.5"}))
		require.NoError(t, s.PutAsset(model.Asset{ID: "a-2", OrgID: "org1", Name: "printer"}))
		require.NoError(t, s.PutAsset(model.Asset{ID: "a-3", OrgID: "org2", Name: "api", URL: "https://api.example.com"}))
		require.NoError(t, s.PutAsset(model.Asset{ID: "a-1", OrgID: "org1", Name: "web-renamed", IP: "10.0.0.5"}))

		list, err := s.ListAssets("org1")
		require.NoError(t, err)
		require.Len(t, list, 2)

		names := []string{list[0].Name, list[1].Name}
		assert.ElementsMatch(t, []string{"web-renamed", "printer"}, names)

		assert.Error(t, s.PutAsset(model.Asset{ID: "a-9"}))

		none, err := s.ListAssets("org9")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
