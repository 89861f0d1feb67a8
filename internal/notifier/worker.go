package notifier

import (
	"context"

	"github.com/L1nMay/vulnorch/internal/logger"
	"github.com/L1nMay/vulnorch/internal/model"
)

// Worker delivers notifications off the scan goroutines. When the queue is
// full new events are dropped.
type Worker struct {
	notifier Notifier
	queue    chan model.ScanRecord
}

func NewWorker(n Notifier, size int) *Worker {
	if size <= 0 {
		size = 64
	}
	return &Worker{notifier: n, queue: make(chan model.ScanRecord, size)}
}

// ScanFinished enqueues a copy of rec.
func (w *Worker) ScanFinished(rec *model.ScanRecord) {
	select {
	case w.queue <- *rec:
	default:
		logger.Warnf("notification queue full, dropping scan %s", rec.ID)
	}
}

func (w *Worker) ScanStarted(*model.ScanRecord) {}

// Run delivers until ctx is done, then flushes what is already queued.
func (w *Worker) Run(ctx context.Context) {
	logger.Infof("notification worker started")

	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case rec := <-w.queue:
			w.deliver(&rec)
		}
	}
}

func (w *Worker) flush() {
	for {
		select {
		case rec := <-w.queue:
			w.deliver(&rec)
		default:
			return
		}
	}
}

func (w *Worker) deliver(rec *model.ScanRecord) {
	if err := w.notifier.NotifyScanFinished(rec); err != nil {
		logger.Errorf("notification for scan %s failed: %v", rec.ID, err)
	}
}
