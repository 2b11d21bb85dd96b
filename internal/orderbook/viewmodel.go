package orderbook

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/internal/monitoring"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

var errEmptyDepth = errors.New("empty depth response")

// DepthSource is the REST depth endpoint; exchange.MarketData satisfies it
type DepthSource interface {
	GetDepth(ctx context.Context, symbol string, limit int) (*types.Depth, error)
}

// Cache stores the last good snapshot per symbol
type Cache interface {
	Get(ctx context.Context, symbol string) (*Snapshot, error)
	Set(ctx context.Context, symbol string, snap *Snapshot) error
}

// ViewModel keeps the last good snapshot of the selected symbol. A failed
// refresh leaves it in place.
type ViewModel struct {
	source DepthSource
	opts   Options
	cache  Cache
	logger *logger.Logger

	mu          sync.RWMutex
	symbol      string
	last        *Snapshot
	lastRefresh time.Time
	failures    int
	now         func() time.Time
}

// NewViewModel creates an order book view model
func NewViewModel(source DepthSource, opts Options, log *logger.Logger) *ViewModel {
	if opts.Levels <= 0 {
		opts.Levels = DefaultOptions().Levels
	}
	return &ViewModel{
		source: source,
		opts:   opts,
		logger: log,
		now:    time.Now,
	}
}

// WithCache attaches a snapshot cache
func (vm *ViewModel) WithCache(cache Cache) *ViewModel {
	vm.cache = cache
	return vm
}

// fetchLimit asks for more levels when grouping so every group fills up
func (vm *ViewModel) fetchLimit() int {
	if vm.opts.TickSize > 0 {
		n := vm.opts.Levels * 10
		if n > 1000 {
			n = 1000
		}
		return n
	}
	return vm.opts.Levels
}

// Refresh pulls depth for symbol and rebuilds the snapshot. On failure the
// previous snapshot (or a cached one) is returned with a DataUnavailable
// error so the caller can keep showing it.
func (vm *ViewModel) Refresh(ctx context.Context, symbol string) (*Snapshot, error) {
	symbol = strings.ToUpper(symbol)

	depth, err := vm.source.GetDepth(ctx, symbol, vm.fetchLimit())
	if err == nil && depth == nil {
		err = errEmptyDepth
	}
	if err != nil {
		monitoring.RecordDepthRefresh(false)
		failures := vm.recordFailure(symbol)
		vm.logger.Warning("Order book refresh failed for %s (%d in a row): %v", symbol, failures, err)

		last := vm.Snapshot(symbol)
		if last == nil && vm.cache != nil {
			cached, cerr := vm.cache.Get(ctx, symbol)
			if cerr != nil {
				vm.logger.Debug("Order book cache read failed: %v", cerr)
			} else if cached != nil {
				vm.store(symbol, cached, false)
				last = cached
			}
		}
		return last, terrors.NewDataUnavailable("orderbook", "Refresh", err)
	}

	snap := BuildSnapshot(*depth, vm.opts)
	if snap.Symbol == "" {
		snap.Symbol = symbol
	}
	if snap.Crossed {
		vm.logger.Warning("Crossed order book for %s: best ask %.8f < best bid %.8f", symbol, snap.BestAsk, snap.BestBid)
	}

	monitoring.RecordDepthRefresh(true)
	vm.store(symbol, &snap, true)

	if vm.cache != nil {
		if err := vm.cache.Set(ctx, symbol, &snap); err != nil {
			vm.logger.Debug("Order book cache write failed: %v", err)
		}
	}
	return vm.Snapshot(symbol), nil
}

func (vm *ViewModel) recordFailure(symbol string) int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.symbol != symbol {
		vm.symbol = symbol
		vm.last = nil
		vm.failures = 0
	}
	vm.failures++
	return vm.failures
}

func (vm *ViewModel) store(symbol string, snap *Snapshot, fresh bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.symbol = symbol
	vm.last = snap
	if fresh {
		vm.lastRefresh = vm.now()
		vm.failures = 0
	}
}

// Snapshot returns a copy of the last snapshot for symbol, or nil
func (vm *ViewModel) Snapshot(symbol string) *Snapshot {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.last == nil || !strings.EqualFold(vm.symbol, symbol) {
		return nil
	}
	cp := *vm.last
	cp.Asks = append([]Row(nil), vm.last.Asks...)
	cp.Bids = append([]Row(nil), vm.last.Bids...)
	return &cp
}

// LastRefresh returns when the snapshot was last rebuilt from the source
func (vm *ViewModel) LastRefresh() time.Time {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.lastRefresh
}

// Failures returns the number of consecutive failed refreshes
func (vm *ViewModel) Failures() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.failures
}

// Reset drops the snapshot, used when the instrument changes
func (vm *ViewModel) Reset() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.symbol = ""
	vm.last = nil
	vm.failures = 0
	vm.lastRefresh = time.Time{}
}
