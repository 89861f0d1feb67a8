package scan

import (
	"sync"

	"github.com/L1nMay/vulnorch/internal/model"
)

type Progress struct {
	ScanID  string           `json:"scanId"`
	Status  model.ScanStatus `json:"status"`
	Percent int              `json:"percent"`
	Message string           `json:"message"`
}

func progressOf(rec *model.ScanRecord) Progress {
	return Progress{
		ScanID:  rec.ID,
		Status:  rec.Status,
		Percent: rec.Progress,
		Message: rec.Message,
	}
}

// Hub fans progress updates out to subscribers. Slow subscribers miss updates.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Progress]string
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Progress]string)}
}

// Subscribe to one scan's updates, or to every scan when scanID is empty.
func (h *Hub) Subscribe(scanID string) chan Progress {
	ch := make(chan Progress, 64)
	h.mu.Lock()
	h.subs[ch] = scanID
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; !ok {
		return
	}
	delete(h.subs, ch)
	close(ch)
}

func (h *Hub) Publish(p Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch, id := range h.subs {
		if id != "" && id != p.ScanID {
			continue
		}
		select {
		case ch <- p:
		default:
		}
	}
}
