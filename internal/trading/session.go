package trading

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
)

// Session owns the available balance, the open orders and the trade
// history. It is only mutated by order submission and cancellation.
type Session struct {
	mu         sync.RWMutex
	balance    decimal.Decimal
	openOrders []Order
	trades     []Trade
}

// SessionState is the persisted form of a session
type SessionState struct {
	Balance    decimal.Decimal `json:"balance"`
	OpenOrders []Order         `json:"open_orders"`
	Trades     []Trade         `json:"trades"`
	SavedAt    time.Time       `json:"saved_at"`
}

// NewSession creates a session with an initial balance
func NewSession(balance decimal.Decimal) *Session {
	return &Session{balance: balance}
}

// RestoreSession rebuilds a session from saved state
func RestoreSession(state SessionState) *Session {
	s := &Session{balance: state.Balance}
	for _, o := range state.OpenOrders {
		if o.Status == StatusOpen {
			s.openOrders = append(s.openOrders, o)
		}
	}
	s.trades = append(s.trades, state.Trades...)
	return s
}

// Balance returns the available balance
func (s *Session) Balance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// OpenOrders returns the open orders, oldest first
func (s *Session) OpenOrders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Order(nil), s.openOrders...)
}

// Trades returns the trade history, newest first
func (s *Session) Trades() []Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Trade, len(s.trades))
	for i, t := range s.trades {
		out[len(s.trades)-1-i] = t
	}
	return out
}

// State returns a copy suitable for persistence
func (s *Session) State(now time.Time) SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionState{
		Balance:    s.balance,
		OpenOrders: append([]Order(nil), s.openOrders...),
		Trades:     append([]Trade(nil), s.trades...),
		SavedAt:    now,
	}
}

// settleMarket applies a filled market order: buys debit the total, sells
// credit it. The balance check is repeated under the lock.
func (s *Session) settleMarket(order Order, trade Trade) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch order.Side {
	case SideBuy:
		if order.Total.GreaterThan(s.balance) {
			return s.balance, terrors.NewValidationError(terrors.ErrorCategoryInsufficientBalance,
				"trading", "Submit", "order total exceeds available balance").
				WithContext("total", order.Total.String()).
				WithContext("balance", s.balance.String())
		}
		s.balance = s.balance.Sub(order.Total)
	case SideSell:
		s.balance = s.balance.Add(order.Total)
	}
	s.trades = append(s.trades, trade)
	return s.balance, nil
}

// addOpen records an accepted limit order. The balance is untouched.
func (s *Session) addOpen(order Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openOrders = append(s.openOrders, order)
}

// cancel moves an open order to cancelled and removes it from the open list
func (s *Session) cancel(id string, now time.Time) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, o := range s.openOrders {
		if o.ID != id {
			continue
		}
		o.Status = StatusCancelled
		o.UpdatedAt = now
		s.openOrders = append(s.openOrders[:i:i], s.openOrders[i+1:]...)
		return o, nil
	}
	return Order{}, terrors.NewValidationError(terrors.ErrorCategoryOrderNotFound,
		"trading", "Cancel", "no open order with id "+id)
}
