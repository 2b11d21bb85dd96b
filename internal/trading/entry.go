package trading

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/internal/monitoring"
)

// DefaultFeeRate is the proportional fee applied to every order total
var DefaultFeeRate = decimal.NewFromFloat(0.001)

// EntryState is the state of the order form
type EntryState string

const (
	StateEditing    EntryState = "editing"
	StateValidating EntryState = "validating"
	StateRejected   EntryState = "rejected"
	StateAccepted   EntryState = "accepted"
	StateSettled    EntryState = "settled"
)

// Result describes a settled submission
type Result struct {
	Order   Order           `json:"order"`
	Trade   *Trade          `json:"trade,omitempty"`
	Balance decimal.Decimal `json:"balance"`
}

// Entry is the order form: it holds the draft, derives the quote and turns
// accepted drafts into filled or open orders on its session.
type Entry struct {
	session  *Session
	executor Executor
	feeRate  decimal.Decimal
	logger   *logger.Logger

	now   func() time.Time
	newID func() string

	mu          sync.Mutex
	draft       Draft
	marketPrice decimal.Decimal
	state       EntryState
	lastErr     error
}

// EntryOption customizes an Entry
type EntryOption func(*Entry)

// WithExecutor forwards accepted orders to an execution endpoint
func WithExecutor(executor Executor) EntryOption {
	return func(e *Entry) { e.executor = executor }
}

// WithFeeRate overrides DefaultFeeRate
func WithFeeRate(rate decimal.Decimal) EntryOption {
	return func(e *Entry) { e.feeRate = rate }
}

// WithClock overrides the time source and id generator, for tests
func WithClock(now func() time.Time, newID func() string) EntryOption {
	return func(e *Entry) {
		if now != nil {
			e.now = now
		}
		if newID != nil {
			e.newID = newID
		}
	}
}

// NewEntry creates an order form for symbol on session
func NewEntry(session *Session, symbol string, log *logger.Logger, opts ...EntryOption) *Entry {
	e := &Entry{
		session: session,
		feeRate: DefaultFeeRate,
		logger:  log,
		now:     time.Now,
		newID:   uuid.NewString,
		draft: Draft{
			Symbol: strings.ToUpper(symbol),
			Side:   SideBuy,
			Type:   OrderTypeMarket,
		},
		state: StateEditing,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session returns the session the form settles into
func (e *Entry) Session() *Session {
	return e.session
}

func (e *Entry) edit(fn func(d *Draft)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.draft)
	e.state = StateEditing
	e.lastErr = nil
}

// SetSymbol switches the form to another instrument. The live price is
// dropped until the next ticker for the new symbol arrives.
func (e *Entry) SetSymbol(symbol string) {
	e.edit(func(d *Draft) {
		sym := strings.ToUpper(symbol)
		if sym != d.Symbol {
			d.Symbol = sym
			d.RawPrice = ""
			e.marketPrice = decimal.Zero
		}
	})
}

func (e *Entry) SetSide(side Side) {
	e.edit(func(d *Draft) { d.Side = side })
}

func (e *Entry) SetType(t OrderType) {
	e.edit(func(d *Draft) { d.Type = t })
}

func (e *Entry) SetPrice(raw string) {
	e.edit(func(d *Draft) { d.RawPrice = strings.TrimSpace(raw) })
}

func (e *Entry) SetQuantity(raw string) {
	e.edit(func(d *Draft) { d.RawQuantity = strings.TrimSpace(raw) })
}

// SetMarketPrice records the live price used by market orders. It never
// touches the session.
func (e *Entry) SetMarketPrice(price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if price > 0 {
		e.marketPrice = decimal.NewFromFloat(price)
	}
}

// MarketPrice returns the live price, zero when none has been seen
func (e *Entry) MarketPrice() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.marketPrice
}

// Draft returns the draft being edited
func (e *Entry) Draft() Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// State returns the form state and the error of the last rejection
func (e *Entry) State() (EntryState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.lastErr
}

// Quote derives the order figures from the current draft. Unparsable
// inputs count as zero.
func (e *Entry) Quote() Quote {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quoteLocked()
}

func (e *Entry) effectivePriceLocked() decimal.Decimal {
	if e.draft.Type == OrderTypeMarket {
		return e.marketPrice
	}
	price, _ := parsePositive(e.draft.RawPrice)
	return price
}

func (e *Entry) quoteLocked() Quote {
	price := e.effectivePriceLocked()
	qty, _ := parsePositive(e.draft.RawQuantity)

	total := price.Mul(qty)
	fee := total.Mul(e.feeRate)

	received := qty
	if e.draft.Side == SideSell {
		received = total.Sub(fee)
	}

	return Quote{
		EffectivePrice:    price,
		Quantity:          qty,
		Total:             total,
		Fee:               fee,
		EstimatedReceived: received,
	}
}

// Submit validates the draft and settles it. Checks run in order: quantity,
// price, then balance for buys. Market orders settle at once against the
// balance; limit orders are recorded open and leave the balance alone.
func (e *Entry) Submit(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	e.state = StateValidating
	draft := e.draft
	quote := e.quoteLocked()
	e.mu.Unlock()

	if _, ok := parsePositive(draft.RawQuantity); !ok {
		return nil, e.reject(draft, terrors.NewValidationError(terrors.ErrorCategoryInvalidQuantity,
			"trading", "Submit", "quantity must be a positive number").
			WithContext("quantity", draft.RawQuantity))
	}

	if !quote.EffectivePrice.IsPositive() {
		msg := "limit price must be a positive number"
		if draft.Type == OrderTypeMarket {
			msg = "no market price available"
		}
		return nil, e.reject(draft, terrors.NewValidationError(terrors.ErrorCategoryInvalidPrice,
			"trading", "Submit", msg).
			WithContext("price", draft.RawPrice))
	}

	balance := e.session.Balance()
	if draft.Side == SideBuy && quote.Total.GreaterThan(balance) {
		return nil, e.reject(draft, terrors.NewValidationError(terrors.ErrorCategoryInsufficientBalance,
			"trading", "Submit", "order total exceeds available balance").
			WithContext("total", quote.Total.String()).
			WithContext("balance", balance.String()))
	}

	e.setState(StateAccepted, nil)

	if e.executor != nil {
		resp, err := e.executor.Execute(ctx, ExecutionRequest{
			Instrument: draft.Symbol,
			Side:       draft.Side,
			Type:       draft.Type,
			Price:      quote.EffectivePrice,
			Quantity:   quote.Quantity,
		})
		if err != nil {
			return nil, e.reject(draft, terrors.WrapError(err, terrors.ErrorCategoryExecutionRejected, "trading", "Submit"))
		}
		if !resp.Success {
			msg := resp.Error
			if msg == "" {
				msg = "execution endpoint rejected the order"
			}
			return nil, e.reject(draft, terrors.NewValidationError(terrors.ErrorCategoryExecutionRejected,
				"trading", "Submit", msg))
		}
	}

	now := e.now()
	order := Order{
		ID:        e.newID(),
		Symbol:    draft.Symbol,
		Side:      draft.Side,
		Type:      draft.Type,
		Price:     quote.EffectivePrice,
		Quantity:  quote.Quantity,
		Total:     quote.Total,
		Fee:       quote.Fee,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result := &Result{}
	switch draft.Type {
	case OrderTypeMarket:
		order.Status = StatusFilled
		trade := Trade{
			ID:         e.newID(),
			OrderID:    order.ID,
			Symbol:     order.Symbol,
			Side:       order.Side,
			Price:      order.Price,
			Quantity:   order.Quantity,
			Total:      order.Total,
			Fee:        order.Fee,
			Status:     "executed",
			ExecutedAt: now,
		}
		newBalance, err := e.session.settleMarket(order, trade)
		if err != nil {
			return nil, e.reject(draft, err)
		}
		result.Trade = &trade
		result.Balance = newBalance
	default:
		order.Status = StatusOpen
		e.session.addOpen(order)
		result.Balance = e.session.Balance()
	}
	result.Order = order

	e.mu.Lock()
	e.state = StateSettled
	e.lastErr = nil
	e.draft.RawQuantity = ""
	e.mu.Unlock()

	monitoring.RecordOrder(order.Symbol, string(order.Side), string(order.Type), "accepted", order.Total.InexactFloat64())
	e.logger.LogOrderExecution(string(order.Side), string(order.Type), order.ID, order.Symbol,
		order.Quantity.String(), order.Price.String(), order.Total.String(), order.Fee.String(),
		result.Balance.String())

	return result, nil
}

// Cancel cancels an open order of the session. Unknown or already closed
// ids return an OrderNotFound error and change nothing.
func (e *Entry) Cancel(id string) (Order, error) {
	order, err := e.session.cancel(id, e.now())
	if err != nil {
		return Order{}, err
	}
	e.logger.Trade("Cancelled %s %s order %s for %s", order.Side, order.Type, order.ID, order.Symbol)
	return order, nil
}

func (e *Entry) setState(st EntryState, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = st
	e.lastErr = err
}

// reject records err and returns the form to editing
func (e *Entry) reject(draft Draft, err error) error {
	e.setState(StateRejected, err)
	monitoring.RecordOrder(draft.Symbol, string(draft.Side), string(draft.Type), strings.ToLower(string(terrors.CategoryOf(err))), 0)
	e.logger.Warning("Order rejected: %v", err)

	e.mu.Lock()
	e.state = StateEditing
	e.mu.Unlock()
	return err
}
