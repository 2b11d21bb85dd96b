package monitoring

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
)

type HealthChecker struct {
	mu         sync.RWMutex
	startTime  time.Time
	lastUpdate time.Time
	lastPrice  float64
	streams    map[string]bool
	degraded   map[string]string
	errorStats *terrors.ErrorStats
	components map[string]func() interface{}
	now        func() time.Time
}

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	LastUpdate time.Time         `json:"last_update"`
	LastPrice  float64           `json:"last_price"`
	Streams    map[string]bool   `json:"streams"`
	Degraded   map[string]string `json:"degraded,omitempty"`
	Uptime     string            `json:"uptime"`
	Errors     []string          `json:"errors,omitempty"`

	Components map[string]interface{} `json:"components,omitempty"`
}

func NewHealthChecker(errorStats *terrors.ErrorStats) *HealthChecker {
	return &HealthChecker{
		startTime:  time.Now(),
		streams:    make(map[string]bool),
		degraded:   make(map[string]string),
		errorStats: errorStats,
		components: make(map[string]func() interface{}),
		now:        time.Now,
	}
}

// AddComponent reports the result of fn under name in every status. fn is
// called without the checker locked.
func (h *HealthChecker) AddComponent(name string, fn func() interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = fn
}

// SetStreamConnected records whether a channel currently has an open stream.
// A successful connection clears any degraded mark.
func (h *HealthChecker) SetStreamConnected(channel string, connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams[channel] = connected
	if connected {
		delete(h.degraded, channel)
	}
}

// MarkDegraded flags a channel that gave up reconnecting
func (h *HealthChecker) MarkDegraded(channel string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams[channel] = false
	if err != nil {
		h.degraded[channel] = err.Error()
	} else {
		h.degraded[channel] = "degraded"
	}
}

// UpdatePrice records the last price seen from any source
func (h *HealthChecker) UpdatePrice(price float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPrice = price
	h.lastUpdate = h.now()
}

// Status reports healthy when no channel is degraded, degraded otherwise
func (h *HealthChecker) Status() HealthStatus {
	status := h.status()

	h.mu.RLock()
	fns := make(map[string]func() interface{}, len(h.components))
	for name, fn := range h.components {
		fns[name] = fn
	}
	h.mu.RUnlock()

	if len(fns) > 0 {
		status.Components = make(map[string]interface{}, len(fns))
		for name, fn := range fns {
			status.Components[name] = fn()
		}
	}
	return status
}

func (h *HealthChecker) status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if len(h.degraded) > 0 {
		status = "degraded"
	}

	streams := make(map[string]bool, len(h.streams))
	for k, v := range h.streams {
		streams[k] = v
	}
	var degraded map[string]string
	if len(h.degraded) > 0 {
		degraded = make(map[string]string, len(h.degraded))
		for k, v := range h.degraded {
			degraded[k] = v
		}
	}

	var errs []string
	if h.errorStats != nil {
		errs = h.errorStats.Recent()
	}

	now := h.now()
	return HealthStatus{
		Status:     status,
		Timestamp:  now,
		LastUpdate: h.lastUpdate,
		LastPrice:  h.lastPrice,
		Streams:    streams,
		Degraded:   degraded,
		Uptime:     now.Sub(h.startTime).Round(time.Second).String(),
		Errors:     errs,
	}
}

// DegradedChannels returns the degraded channel names, sorted
func (h *HealthChecker) DegradedChannels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.degraded))
	for k := range h.degraded {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ServeHTTP writes the status as JSON. Degraded streams still answer 200
// because polling keeps serving data.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Status())
}
