package trading

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts buy or sell in any case
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// OrderType is market or limit
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// ParseOrderType accepts market or limit in any case
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToLower(strings.TrimSpace(s))) {
	case OrderTypeMarket:
		return OrderTypeMarket, nil
	case OrderTypeLimit:
		return OrderTypeLimit, nil
	}
	return "", fmt.Errorf("unknown order type %q", s)
}

// OrderStatus of a recorded order
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// Order is an accepted order. Market orders are recorded filled, limit
// orders open.
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Type      OrderType       `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
	Fee       decimal.Decimal `json:"fee"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Trade is one execution in the session history
type Trade struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Total      decimal.Decimal `json:"total"`
	Fee        decimal.Decimal `json:"fee"`
	Status     string          `json:"status"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Draft is the order being edited. Raw inputs are kept as typed so that
// validation can report what was wrong with them.
type Draft struct {
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Type        OrderType `json:"type"`
	RawPrice    string    `json:"price"`
	RawQuantity string    `json:"quantity"`
}

// Quote holds the figures derived from a draft
type Quote struct {
	EffectivePrice    decimal.Decimal `json:"effective_price"`
	Quantity          decimal.Decimal `json:"quantity"`
	Total             decimal.Decimal `json:"total"`
	Fee               decimal.Decimal `json:"fee"`
	EstimatedReceived decimal.Decimal `json:"estimated_received"`
}

// parsePositive parses raw as a decimal greater than zero
func parsePositive(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
