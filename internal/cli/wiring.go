package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/L1nMay/vulnorch/internal/config"
	"github.com/L1nMay/vulnorch/internal/gvm"
	"github.com/L1nMay/vulnorch/internal/logger"
	"github.com/L1nMay/vulnorch/internal/metrics"
	"github.com/L1nMay/vulnorch/internal/model"
	"github.com/L1nMay/vulnorch/internal/scan"
	"github.com/L1nMay/vulnorch/internal/storage"
)

// store is what every backend offers: scan records plus the asset directory.
type store interface {
	storage.ScanStore
	storage.AssetDirectory
}

func openStore(cfg *config.Config) (store, error) {
	switch cfg.Store.Backend {
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Store.BoltPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		return storage.NewStorage(cfg.Store.BoltPath)
	case "redis":
		return storage.NewRedisStore(cfg.Store.Redis)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// openHistory returns nil when the SQL mirror is disabled.
func openHistory(cfg *config.Config) (*storage.History, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	h, err := storage.NewHistory(cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := h.Migrate(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return h, nil
}

// newEngine builds the gvm-cli client. m may be nil.
func newEngine(cfg *config.Config, m *metrics.Metrics) *gvm.Client {
	client := gvm.NewClient(cfg)
	if m != nil {
		client.SetObserver(m)
	}
	return client
}

// historyRecorder mirrors every terminal scan into the SQL history.
func historyRecorder(h *storage.History) scan.Observer {
	return scan.FinishFunc(func(rec *model.ScanRecord) {
		if err := h.RecordScan(rec, rec.Results); err != nil {
			logger.WithScan(rec.ID).Errorf("history: record failed: %v", err)
		}
	})
}
