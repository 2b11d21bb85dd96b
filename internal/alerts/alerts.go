package alerts

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/format"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/internal/monitoring"
	"github.com/ducminhle1904/crypto-terminal/internal/notifications"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

// Condition is what an alert watches for
type Condition string

const (
	PriceAbove    Condition = "price_above"
	PriceBelow    Condition = "price_below"
	PercentChange Condition = "percent_change"
)

// ParseCondition accepts the condition names and the short forms above,
// below and change
func ParseCondition(s string) (Condition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "price_above", "above", ">":
		return PriceAbove, nil
	case "price_below", "below", "<":
		return PriceBelow, nil
	case "percent_change", "change", "%":
		return PercentChange, nil
	}
	return "", terrors.NewValidationError(terrors.ErrorCategoryInvalidAlert, "alerts", "ParseCondition",
		fmt.Sprintf("unknown alert condition %q", s))
}

// Alert is a one-shot price alert
type Alert struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Condition   Condition  `json:"condition"`
	Target      float64    `json:"target"`
	Active      bool       `json:"active"`
	Triggered   bool       `json:"triggered"`
	CreatedAt   time.Time  `json:"created_at"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
}

// Matches reports whether the ticker satisfies the alert. Percent change
// alerts compare the absolute 24h change against the target.
func (a Alert) Matches(t types.TickerUpdate) bool {
	if !strings.EqualFold(a.Symbol, t.Symbol) {
		return false
	}
	switch a.Condition {
	case PriceAbove:
		return t.LastPrice >= a.Target
	case PriceBelow:
		return t.LastPrice > 0 && t.LastPrice <= a.Target
	case PercentChange:
		return math.Abs(t.ChangePercent) >= a.Target
	}
	return false
}

func (a Alert) describe(t types.TickerUpdate) string {
	switch a.Condition {
	case PriceAbove:
		return fmt.Sprintf("%s crossed above %s (last %s)", a.Symbol, format.Price(a.Target), format.Price(t.LastPrice))
	case PriceBelow:
		return fmt.Sprintf("%s fell below %s (last %s)", a.Symbol, format.Price(a.Target), format.Price(t.LastPrice))
	default:
		return fmt.Sprintf("%s moved %s in 24h (threshold %s%%)", a.Symbol, format.Percent(t.ChangePercent), format.Fixed(a.Target, 2))
	}
}

// Manager holds the alerts and evaluates them on ticker updates
type Manager struct {
	mu       sync.Mutex
	alerts   []Alert
	notifier notifications.Notifier
	logger   *logger.Logger

	now   func() time.Time
	newID func() string
}

// NewManager creates a manager delivering fired alerts to notifier
func NewManager(notifier notifications.Notifier, log *logger.Logger) *Manager {
	return &Manager{
		notifier: notifier,
		logger:   log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Add registers an active alert
func (m *Manager) Add(symbol string, cond Condition, target float64) (Alert, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Alert{}, terrors.NewValidationError(terrors.ErrorCategoryInvalidAlert, "alerts", "Add", "symbol is required")
	}
	if _, err := ParseCondition(string(cond)); err != nil {
		return Alert{}, err
	}
	if !(target > 0) || math.IsInf(target, 0) {
		return Alert{}, terrors.NewValidationError(terrors.ErrorCategoryInvalidAlert, "alerts", "Add",
			"target must be a positive number").WithContext("target", target)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	a := Alert{
		ID:        m.newID(),
		Symbol:    symbol,
		Condition: cond,
		Target:    target,
		Active:    true,
		CreatedAt: m.now(),
	}
	m.alerts = append(m.alerts, a)
	m.logger.Info("Alert %s added: %s %s %v", a.ID, a.Symbol, a.Condition, a.Target)
	return a, nil
}

// Remove deletes an alert
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.alerts {
		if a.ID == id {
			m.alerts = append(m.alerts[:i], m.alerts[i+1:]...)
			return nil
		}
	}
	return terrors.NewValidationError(terrors.ErrorCategoryAlertNotFound, "alerts", "Remove", "no such alert").
		WithContext("id", id)
}

// List returns all alerts, oldest first
func (m *Manager) List() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

// Restore replaces the alerts with a saved set
func (m *Manager) Restore(saved []Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append([]Alert(nil), saved...)
}

// Firing is an alert that has just triggered, with the message to deliver
type Firing struct {
	Alert
	Message string `json:"message"`
}

// Evaluate checks every active alert against t. Matching alerts fire once,
// are deactivated and are returned. Nothing is sent: the caller hands the
// result to Deliver off its hot path.
func (m *Manager) Evaluate(t types.TickerUpdate) []Firing {
	m.mu.Lock()
	var fired []Firing
	now := m.now()
	for i := range m.alerts {
		a := &m.alerts[i]
		if !a.Active || !a.Matches(t) {
			continue
		}
		a.Active = false
		a.Triggered = true
		at := now
		a.TriggeredAt = &at
		fired = append(fired, Firing{Alert: *a, Message: a.describe(t)})
	}
	m.mu.Unlock()

	for _, f := range fired {
		monitoring.RecordAlert(f.Symbol, string(f.Condition))
		m.logger.Status("Alert fired: %s", f.Message)
	}
	return fired
}

// Deliver sends fired alerts to the notifier. It may block on network I/O.
// Failures are logged and do not reactivate the alert.
func (m *Manager) Deliver(fired []Firing) {
	if m.notifier == nil {
		return
	}
	for _, f := range fired {
		if err := m.notifier.SendAlert(notifications.LevelWarning, f.Message); err != nil {
			m.logger.LogError("alert delivery", err)
			monitoring.RecordError("alert_delivery")
		}
	}
}
