package stream

import (
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

// State of one channel subscription
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Handler receives stream events. Calls for one channel arrive in order from
// that channel's reader; different channels may call concurrently.
type Handler interface {
	OnTicker(update types.TickerUpdate)
	OnKline(update types.KlineUpdate)
	OnStateChange(channel exchange.Channel, state State)
	OnDegraded(channel exchange.Channel, err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Ticker      func(types.TickerUpdate)
	Kline       func(types.KlineUpdate)
	StateChange func(exchange.Channel, State)
	Degraded    func(exchange.Channel, error)
}

func (h HandlerFuncs) OnTicker(update types.TickerUpdate) {
	if h.Ticker != nil {
		h.Ticker(update)
	}
}

func (h HandlerFuncs) OnKline(update types.KlineUpdate) {
	if h.Kline != nil {
		h.Kline(update)
	}
}

func (h HandlerFuncs) OnStateChange(channel exchange.Channel, state State) {
	if h.StateChange != nil {
		h.StateChange(channel, state)
	}
}

func (h HandlerFuncs) OnDegraded(channel exchange.Channel, err error) {
	if h.Degraded != nil {
		h.Degraded(channel, err)
	}
}
