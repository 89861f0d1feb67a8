package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/L1nMay/vulnorch/internal/auth"
	"github.com/L1nMay/vulnorch/internal/config"
	"github.com/L1nMay/vulnorch/internal/logger"
	"github.com/L1nMay/vulnorch/internal/model"
	"github.com/L1nMay/vulnorch/internal/storage"
)

// Service is the controller surface: every call is made on behalf of an
// authenticated user and enforces ownership.
type Service struct {
	runner   *Runner
	engine   Engine
	store    storage.ScanStore
	assets   storage.AssetDirectory
	precheck time.Duration
}

func NewService(cfg *config.Config, runner *Runner, engine Engine, store storage.ScanStore, assets storage.AssetDirectory) *Service {
	return &Service{
		runner:   runner,
		engine:   engine,
		store:    store,
		assets:   assets,
		precheck: cfg.PrecheckTimeout(),
	}
}

func (s *Service) Runner() *Runner {
	return s.runner
}

// ListScannableAssets returns the caller's assets that have an IP or URL,
// sorted by name. An empty list is not an error.
func (s *Service) ListScannableAssets(user auth.User) ([]model.Asset, error) {
	all, err := s.assets.ListAssets(user.OrgID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Asset, 0, len(all))
	for _, a := range all {
		if a.Scannable() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SelectAssets narrows the caller's scannable assets to ids. No ids selects all.
func (s *Service) SelectAssets(user auth.User, ids []string) ([]model.Asset, error) {
	assets, err := s.ListScannableAssets(user)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return assets, nil
	}

	byID := make(map[string]model.Asset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}
	out := make([]model.Asset, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		a, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a scannable asset", ErrInvalidAsset, id)
		}
		seen[id] = true
		out = append(out, a)
	}
	return out, nil
}

// StartScan scans the selected assets of the caller's organization.
func (s *Service) StartScan(ctx context.Context, user auth.User, assetIDs []string) (*model.ScanRecord, error) {
	assets, err := s.SelectAssets(user, assetIDs)
	if err != nil {
		return nil, err
	}
	return s.StartAssets(ctx, user, assets)
}

// StartAssets validates, pre-checks the engine and hands the scan to the runner.
func (s *Service) StartAssets(ctx context.Context, user auth.User, assets []model.Asset) (*model.ScanRecord, error) {
	if len(assets) == 0 {
		return nil, ErrNoAssets
	}
	if err := ValidateAssets(assets); err != nil {
		return nil, err
	}

	if res := s.TestConnection(ctx); !res.OK {
		return nil, fmt.Errorf("%w: %s", ErrEngineUnavailable, res.Details)
	}

	rec, err := s.runner.Start(user.ID, assets)
	if err != nil {
		return nil, err
	}
	view := rec.StatusView()
	return &view, nil
}

// load fetches a record the user may see. Existence is checked before ownership.
func (s *Service) load(user auth.User, id string) (*model.ScanRecord, error) {
	rec, err := s.store.GetScan(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != user.ID && !user.IsAdmin() {
		logger.Warnf("user %s denied access to scan %s", user.ID, id)
		return nil, ErrForbidden
	}
	return rec, nil
}

func (s *Service) Status(user auth.User, id string) (*model.ScanRecord, error) {
	rec, err := s.load(user, id)
	if err != nil {
		return nil, err
	}
	view := rec.StatusView()
	return &view, nil
}

// Results is NotFound until the scan completed.
func (s *Service) Results(user auth.User, id string) (*model.Report, error) {
	if _, err := s.load(user, id); err != nil {
		return nil, err
	}
	rep, err := s.store.GetResults(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rep, err
}

func (s *Service) Cancel(user auth.User, id string) error {
	if _, err := s.load(user, id); err != nil {
		return err
	}
	_, err := s.runner.Cancel(id)
	return err
}

// History lists the caller's own scans, newest first.
func (s *Service) History(user auth.User) ([]model.ScanRecord, error) {
	recs, err := s.store.ListScansByOwner(user.ID)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Results = nil
	}
	return recs, nil
}

// Watch subscribes to one scan's progress. stop must be called when done.
func (s *Service) Watch(user auth.User, id string) (updates <-chan Progress, stop func(), err error) {
	if _, err := s.load(user, id); err != nil {
		return nil, nil, err
	}
	ch := s.runner.HubSubscribe(id)
	return ch, func() { s.runner.HubUnsubscribe(ch) }, nil
}

type ConnectionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Version string `json:"version,omitempty"`
	Details string `json:"details,omitempty"`
}

// TestConnection reports engine reachability as data; it never fails.
func (s *Service) TestConnection(ctx context.Context) ConnectionResult {
	return CheckEngine(ctx, s.engine, s.precheck)
}

// CheckEngine asks the engine for its protocol version within timeout.
func CheckEngine(ctx context.Context, engine Engine, timeout time.Duration) ConnectionResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := engine.Version(ctx)
	if err != nil {
		logger.Warnf("engine connectivity check failed: %v", err)
		return ConnectionResult{
			OK:      false,
			Message: "Scanning engine is not reachable",
			Details: err.Error(),
		}
	}
	return ConnectionResult{
		OK:      true,
		Message: "Scanning engine is reachable",
		Version: v,
		Details: "GMP version " + v,
	}
}
