package trading

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Position is the net holding of one symbol built from the trade history.
// It is for display only: the session balance does not depend on it.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
	ReturnPercent decimal.Decimal `json:"return_percent"`
	RealizedPL    decimal.Decimal `json:"realized_pl"`
	Fees          decimal.Decimal `json:"fees"`
}

// Portfolio sums the positions against the available balance
type Portfolio struct {
	Positions    []Position      `json:"positions"`
	Balance      decimal.Decimal `json:"balance"`
	MarketValue  decimal.Decimal `json:"market_value"`
	Equity       decimal.Decimal `json:"equity"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
	RealizedPL   decimal.Decimal `json:"realized_pl"`
}

var hundred = decimal.NewFromInt(100)

// BuildPositions folds trades, oldest first, into average-cost positions.
// Sells beyond the holding open a short at the sell price. Positions are
// marked at marks[symbol], or at the symbol's last trade price when no mark
// is known. Closed positions with realized P/L are kept; symbols that never
// held anything are not.
func BuildPositions(trades []Trade, marks map[string]decimal.Decimal) []Position {
	bySymbol := make(map[string]*Position)
	last := make(map[string]decimal.Decimal)

	for _, tr := range trades {
		if tr.Quantity.Sign() <= 0 {
			continue
		}
		p := bySymbol[tr.Symbol]
		if p == nil {
			p = &Position{Symbol: tr.Symbol}
			bySymbol[tr.Symbol] = p
		}
		qty := tr.Quantity
		if tr.Side == SideSell {
			qty = qty.Neg()
		}
		p.apply(qty, tr.Price)
		p.Fees = p.Fees.Add(tr.Fee)
		last[tr.Symbol] = tr.Price
	}

	out := make([]Position, 0, len(bySymbol))
	for sym, p := range bySymbol {
		mark, ok := marks[sym]
		if !ok || mark.Sign() <= 0 {
			mark = last[sym]
		}
		p.mark(mark)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// apply adds a signed quantity filled at price
func (p *Position) apply(qty, price decimal.Decimal) {
	if p.Quantity.IsZero() || p.Quantity.Sign() == qty.Sign() {
		size := p.Quantity.Abs().Add(qty.Abs())
		p.AvgPrice = p.Quantity.Abs().Mul(p.AvgPrice).Add(qty.Abs().Mul(price)).Div(size)
		p.Quantity = p.Quantity.Add(qty)
		return
	}

	closed := decimal.Min(qty.Abs(), p.Quantity.Abs())
	pnl := price.Sub(p.AvgPrice).Mul(closed)
	if p.Quantity.IsNegative() {
		pnl = pnl.Neg()
	}
	p.RealizedPL = p.RealizedPL.Add(pnl)

	p.Quantity = p.Quantity.Add(qty)
	switch {
	case p.Quantity.IsZero():
		p.AvgPrice = decimal.Zero
	case p.Quantity.Sign() == qty.Sign():
		p.AvgPrice = price
	}
}

func (p *Position) mark(price decimal.Decimal) {
	p.MarketPrice = price
	p.CostBasis = p.Quantity.Abs().Mul(p.AvgPrice)
	p.CurrentValue = p.Quantity.Mul(price)
	p.ProfitLoss = price.Sub(p.AvgPrice).Mul(p.Quantity)
	if p.Quantity.IsZero() {
		p.ProfitLoss = decimal.Zero
	}
	p.ReturnPercent = decimal.Zero
	if p.CostBasis.IsPositive() {
		p.ReturnPercent = p.ProfitLoss.Div(p.CostBasis).Mul(hundred).Round(2)
	}
}

// NewPortfolio totals positions next to the available balance
func NewPortfolio(balance decimal.Decimal, positions []Position) Portfolio {
	pf := Portfolio{Positions: positions, Balance: balance}
	if pf.Positions == nil {
		pf.Positions = []Position{}
	}
	for _, p := range positions {
		pf.MarketValue = pf.MarketValue.Add(p.CurrentValue)
		pf.UnrealizedPL = pf.UnrealizedPL.Add(p.ProfitLoss)
		pf.RealizedPL = pf.RealizedPL.Add(p.RealizedPL)
	}
	pf.Equity = balance.Add(pf.MarketValue)
	return pf
}

// Positions returns the session's positions marked at marks
func (s *Session) Positions(marks map[string]decimal.Decimal) []Position {
	s.mu.RLock()
	trades := append([]Trade(nil), s.trades...)
	s.mu.RUnlock()
	return BuildPositions(trades, marks)
}
