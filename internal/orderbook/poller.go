package orderbook

import (
	"context"
	"sync"
	"time"
)

// Poller refreshes the view model on a fixed interval for whichever symbol
// is currently selected
type Poller struct {
	vm       *ViewModel
	interval time.Duration
	onUpdate func(symbol string, snap *Snapshot, err error)

	mu     sync.Mutex
	symbol string
	kick   chan struct{}
}

// NewPoller creates a poller. onUpdate runs on the poller goroutine after
// every refresh, failed or not.
func NewPoller(vm *ViewModel, interval time.Duration, onUpdate func(string, *Snapshot, error)) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		vm:       vm,
		interval: interval,
		onUpdate: onUpdate,
		kick:     make(chan struct{}, 1),
	}
}

// SetSymbol switches the polled symbol and triggers an immediate refresh
func (p *Poller) SetSymbol(symbol string) {
	p.mu.Lock()
	p.symbol = symbol
	p.mu.Unlock()

	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Poller) currentSymbol() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.symbol
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		case <-p.kick:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	symbol := p.currentSymbol()
	if symbol == "" {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, p.interval*5)
	defer cancel()

	snap, err := p.vm.Refresh(rctx, symbol)
	if ctx.Err() != nil {
		return
	}
	if p.onUpdate != nil {
		p.onUpdate(symbol, snap, err)
	}
}
