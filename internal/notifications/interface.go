package notifications

import (
	"errors"

	"github.com/ducminhle1904/crypto-terminal/internal/logger"
)

// Alert levels understood by every notifier
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Notifier defines the interface for notification services
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(level, message string) error
}

// LogNotifier writes alerts to the terminal log
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) SendAlert(level, message string) error {
	switch level {
	case LevelWarning:
		n.logger.Warning("%s", message)
	case LevelError:
		n.logger.Error("%s", message)
	default:
		n.logger.Status("%s", message)
	}
	return nil
}

// Multi fans an alert out to several notifiers. Every notifier is tried;
// the errors are joined.
type Multi []Notifier

func (m Multi) SendAlert(level, message string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendAlert(level, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
