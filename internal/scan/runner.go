package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/L1nMay/vulnorch/internal/config"
	"github.com/L1nMay/vulnorch/internal/logger"
	"github.com/L1nMay/vulnorch/internal/model"
	"github.com/L1nMay/vulnorch/internal/risk"
	"github.com/L1nMay/vulnorch/internal/storage"
)

const stopTimeout = 30 * time.Second

// Observer is told about scan starts and every terminal transition.
type Observer interface {
	ScanStarted(rec *model.ScanRecord)
	ScanFinished(rec *model.ScanRecord)
}

// FinishFunc is an Observer that only cares about finished scans.
type FinishFunc func(rec *model.ScanRecord)

func (f FinishFunc) ScanStarted(*model.ScanRecord) {}

func (f FinishFunc) ScanFinished(rec *model.ScanRecord) { f(rec) }

// Runner owns one goroutine per scan. It is the only writer of scan records
// after creation, apart from Cancel.
type Runner struct {
	engine Engine
	store  storage.ScanStore

	pollInterval time.Duration
	maxDuration  time.Duration
	portList     string

	hub       *Hub
	cancels   *cancelRegistry
	wg        sync.WaitGroup
	observers []Observer
	now       func() time.Time
}

func NewRunner(cfg *config.Config, engine Engine, store storage.ScanStore) *Runner {
	return &Runner{
		engine:       engine,
		store:        store,
		pollInterval: cfg.PollInterval(),
		maxDuration:  cfg.MaxDuration(),
		portList:     cfg.Engine.PortList,
		hub:          NewHub(),
		cancels:      newCancelRegistry(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// AddObserver must be called before the first Start.
func (r *Runner) AddObserver(o Observer) {
	r.observers = append(r.observers, o)
}

func NewScanID(ownerID string) string {
	return fmt.Sprintf("scan_%s_%s", ownerID, uuid.NewString())
}

// Start records a new scan in starting and hands it to a background goroutine.
func (r *Runner) Start(ownerID string, assets []model.Asset) (*model.ScanRecord, error) {
	if len(assets) == 0 {
		return nil, ErrNoAssets
	}
	assets = normalizeAssets(assets)

	now := r.now()
	rec := &model.ScanRecord{
		ID:         NewScanID(ownerID),
		OwnerID:    ownerID,
		Status:     model.StatusStarting,
		Message:    "Initializing scan",
		Assets:     assets,
		StartTime:  now,
		LastUpdate: now,
	}

	ctx, cancel := context.WithCancelCause(context.Background())

	r.wg.Add(1)
	if !r.cancels.add(rec.ID, cancel) {
		r.wg.Done()
		cancel(errShutdown)
		return nil, ErrShuttingDown
	}
	if err := r.store.CreateScan(rec); err != nil {
		r.cancels.remove(rec.ID)
		r.wg.Done()
		cancel(err)
		return nil, fmt.Errorf("create scan record: %w", err)
	}

	for _, o := range r.observers {
		o.ScanStarted(rec)
	}
	r.hub.Publish(progressOf(rec))
	logger.WithScan(rec.ID).WithField("owner", ownerID).Infof("Scan started with %d assets", len(assets))

	go r.run(ctx, rec.ID, assets)
	return rec, nil
}

func normalizeAssets(in []model.Asset) []model.Asset {
	out := make([]model.Asset, len(in))
	copy(out, in)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = fmt.Sprintf("asset-%d", i+1)
		}
	}
	return out
}

func (r *Runner) run(ctx context.Context, id string, assets []model.Asset) {
	defer r.wg.Done()
	defer r.cancels.remove(id)

	var (
		tasks   []string
		reports []string
		err     error
	)

	defer func() {
		if p := recover(); p != nil {
			logger.WithScan(id).Errorf("Scan goroutine panic: %v\n%s", p, debug.Stack())
			r.stopTasks(id, tasks)
			r.fail(id, fmt.Sprintf("Scan failed: internal error: %v", p))
		}
	}()

	ctx, cancel := context.WithTimeoutCause(ctx, r.maxDuration, ErrTimeout)
	defer cancel()

	tasks, reports, err = r.setup(ctx, id, assets)
	if err == nil {
		err = r.monitor(ctx, id, assets, tasks, reports)
	}
	if err != nil {
		r.settle(ctx, id, tasks, err)
	}
}

// setup walks starting -> creating_targets -> creating_task -> running.
// On error it returns the tasks already started so they can be stopped.
func (r *Runner) setup(ctx context.Context, id string, assets []model.Asset) ([]string, []string, error) {
	portList := resolvePortList(r.portList)

	_, err := r.update(id, func(rec *model.ScanRecord) {
		rec.Status = model.StatusCreatingTargets
		rec.SetProgress(10)
		rec.Message = fmt.Sprintf("Creating targets for %d assets", len(assets))
	})
	if err != nil {
		return nil, nil, err
	}

	targets := make([]string, 0, len(assets))
	for _, a := range assets {
		hosts, err := hostOf(a)
		if err != nil {
			return nil, nil, fmt.Errorf("asset %s: %w", assetLabel(a), err)
		}
		tid, err := r.engine.CreateTarget(ctx, engineName(id, a), hosts, portList)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create target for %s: %w", assetLabel(a), err)
		}
		targets = append(targets, tid)
	}

	_, err = r.update(id, func(rec *model.ScanRecord) {
		rec.Status = model.StatusCreatingTask
		rec.SetProgress(20)
		rec.Message = "Creating scan task"
		rec.TargetIDs = targets
	})
	if err != nil {
		return nil, nil, err
	}

	tasks := make([]string, 0, len(targets))
	for i, tid := range targets {
		taskID, err := r.engine.CreateTask(ctx, engineName(id, assets[i]), tid)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create task for %s: %w", assetLabel(assets[i]), err)
		}
		tasks = append(tasks, taskID)
	}

	started := make([]string, 0, len(tasks))
	reports := make([]string, len(tasks))
	for i, taskID := range tasks {
		rid, err := r.engine.StartTask(ctx, taskID)
		if err != nil {
			return started, nil, fmt.Errorf("failed to start task for %s: %w", assetLabel(assets[i]), err)
		}
		started = append(started, taskID)
		reports[i] = rid
	}

	_, err = r.update(id, func(rec *model.ScanRecord) {
		rec.Status = model.StatusRunning
		rec.SetProgress(30)
		rec.Message = "Scan running"
		rec.TaskIDs = tasks
		rec.ReportIDs = reports
	})
	if err != nil {
		return tasks, nil, err
	}
	return tasks, reports, nil
}

func engineName(scanID string, a model.Asset) string {
	return fmt.Sprintf("%s %s", scanID, assetLabel(a))
}

func (r *Runner) monitor(ctx context.Context, id string, assets []model.Asset, tasks, reports []string) error {
	log := logger.WithScan(id)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		}

		done, percent, err := r.poll(ctx, tasks, reports)
		if err != nil {
			return err
		}
		if done {
			return r.complete(ctx, id, assets, reports)
		}

		p := 30 + percent*3/5
		if p > 95 {
			p = 95
		}
		log.Debugf("Engine progress %d%%", percent)

		_, err = r.update(id, func(rec *model.ScanRecord) {
			rec.SetProgress(p)
			rec.Message = fmt.Sprintf("Scanning: %d%% complete", percent)
		})
		if err != nil {
			return err
		}
	}
}

// poll returns whether every task is done and the mean engine percent.
func (r *Runner) poll(ctx context.Context, tasks, reports []string) (bool, int, error) {
	if len(tasks) == 0 {
		return true, 100, nil
	}

	sum, finished := 0, 0
	for i, t := range tasks {
		st, err := r.engine.TaskStatus(ctx, t)
		if err != nil {
			return false, 0, fmt.Errorf("failed to get task status: %w", err)
		}
		if st.Failed() {
			return false, 0, fmt.Errorf("engine task %s", st.Status)
		}
		if st.Done() {
			finished++
			sum += 100
			if st.ReportID != "" {
				reports[i] = st.ReportID
			}
			continue
		}
		sum += st.Progress
	}
	return finished == len(tasks), sum / len(tasks), nil
}

func (r *Runner) complete(ctx context.Context, id string, assets []model.Asset, reports []string) error {
	log := logger.WithScan(id)

	_, err := r.update(id, func(rec *model.ScanRecord) {
		rec.SetProgress(95)
		rec.Message = "Processing scan results"
	})
	if err != nil {
		return err
	}

	vulns, err := r.collect(ctx, assets, reports)
	if err != nil && ctx.Err() != nil {
		return context.Cause(ctx)
	}

	now := r.now()
	var (
		rep       *model.Report
		reportErr string
	)
	if err != nil {
		log.Warnf("Report processing failed, completing with empty results: %v", err)
		rep = risk.EmptyReport(id, assets, now)
		reportErr = err.Error()
	} else {
		rep = risk.BuildReport(id, assets, vulns, now)
	}

	_, err = r.update(id, func(rec *model.ScanRecord) {
		rec.Status = model.StatusCompleted
		rec.SetProgress(100)
		rec.Message = "Scan completed successfully"
		if reportErr != "" {
			rec.Message = "Scan completed, results could not be processed"
		}
		rec.ReportIDs = reports
		rec.ReportError = reportErr
		rec.Results = rep
	})
	if err != nil {
		return err
	}

	log.Infof("Scan completed: %d vulnerabilities, compliance %d%%",
		rep.Summary.TotalVulnerabilities, rep.Summary.ComplianceScore)
	return nil
}

func (r *Runner) collect(ctx context.Context, assets []model.Asset, reports []string) ([]model.Vulnerability, error) {
	var out []model.Vulnerability

	for i, rid := range reports {
		if rid == "" {
			return nil, fmt.Errorf("no report for %s", assetLabel(assets[i]))
		}
		findings, err := r.engine.Report(ctx, rid)
		if err != nil {
			return nil, fmt.Errorf("report for %s: %w", assetLabel(assets[i]), err)
		}
		for _, f := range findings {
			out = append(out, model.Vulnerability{
				Name:         f.Name,
				CVE:          f.CVE,
				Score:        f.Score,
				Asset:        assets[i].ID,
				Host:         f.Host,
				Port:         f.Port,
				Description:  f.Description,
				Remediation:  f.Remediation,
				DiscoveredAt: f.DiscoveredAt,
			})
		}
	}
	return out, nil
}

// settle turns the error that ended a scan goroutine into the final record state.
func (r *Runner) settle(ctx context.Context, id string, tasks []string, err error) {
	log := logger.WithScan(id)
	if ctx.Err() != nil {
		err = context.Cause(ctx)
	}

	var msg string
	switch {
	case errors.Is(err, errCancelledByUser), errors.Is(err, storage.ErrTerminal):
		log.Infof("Scan stopped: %v", err)
		r.stopTasks(id, tasks)
		return
	case errors.Is(err, ErrTimeout):
		msg = fmt.Sprintf("Timeout: scan exceeded %s", r.maxDuration)
	case errors.Is(err, errShutdown):
		msg = "Scan interrupted by shutdown"
	default:
		msg = "Scan failed: " + err.Error()
	}

	log.Errorf("%s", msg)
	r.stopTasks(id, tasks)
	r.fail(id, msg)
}

func (r *Runner) fail(id, msg string) {
	_, err := r.update(id, func(rec *model.ScanRecord) {
		rec.Status = model.StatusFailed
		rec.Message = msg
	})
	if err != nil && !errors.Is(err, storage.ErrTerminal) {
		logger.WithScan(id).Errorf("Failed to record scan failure: %v", err)
	}
}

// stopTasks is best effort; the caller's context may already be done.
func (r *Runner) stopTasks(id string, tasks []string) {
	if len(tasks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	for _, t := range tasks {
		if err := r.engine.StopTask(ctx, t); err != nil {
			logger.WithScan(id).Warnf("stop_task %s: %v", t, err)
		}
	}
}

// update is the single write path: it stamps timestamps, publishes progress
// and fires terminal observers.
func (r *Runner) update(id string, fn func(rec *model.ScanRecord)) (*model.ScanRecord, error) {
	rec, err := r.store.UpdateScan(id, func(rec *model.ScanRecord) error {
		fn(rec)
		rec.LastUpdate = r.now()
		if rec.Status.Terminal() && rec.EndTime == nil {
			end := rec.LastUpdate
			rec.EndTime = &end
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.hub.Publish(progressOf(rec))
	if rec.Status.Terminal() {
		for _, o := range r.observers {
			o.ScanFinished(rec)
		}
	}
	return rec, nil
}

// Cancel marks the scan cancelled, then signals its goroutine.
func (r *Runner) Cancel(id string) (*model.ScanRecord, error) {
	rec, err := r.update(id, func(rec *model.ScanRecord) {
		rec.Status = model.StatusCancelled
		rec.Message = "Scan cancelled by user"
	})
	switch {
	case errors.Is(err, storage.ErrTerminal):
		return nil, ErrInvalidState
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}

	r.cancels.cancel(id, errCancelledByUser)
	logger.WithScan(id).Infof("Scan cancelled by user")
	return rec, nil
}

// IsRunning reports whether a goroutine still owns the scan.
func (r *Runner) IsRunning(id string) bool {
	return r.cancels.isRunning(id)
}

func (r *Runner) Running() int {
	return r.cancels.count()
}

// Shutdown fails every running scan and waits for the goroutines to exit.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancels.closeAll(errShutdown)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
