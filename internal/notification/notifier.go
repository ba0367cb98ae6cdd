// Package notification delivers trade alerts to external channels
// (log, Telegram, generic webhooks).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/elPachango/bitbot/internal/portfolio"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Symbol  string     `json:"symbol,omitempty"`

	// Position and Capital are set on trade alerts.
	Position *portfolio.Position `json:"position,omitempty"`
	Capital  *float64            `json:"capital,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PositionOpened builds the alert for a newly opened position.
func PositionOpened(p portfolio.Position) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s opened", p.Side),
		Message: fmt.Sprintf("%s entry %.2f, stop %.2f, stake $%.2f x%.0f (notional $%.2f)",
			p.Symbol, p.EntryPrice, p.InitialStop, p.Stake, p.Leverage, p.Notional),
		Symbol:   p.Symbol,
		Position: &p,
	}
}

// PositionClosed builds the alert for a closed position. Stop-outs are
// warnings.
func PositionClosed(p portfolio.Position, capital float64) Alert {
	level := AlertInfo
	if p.CloseReason == portfolio.StopLabel {
		level = AlertWarning
	}
	exit := p.CurrentPrice
	if p.ClosePrice != nil {
		exit = *p.ClosePrice
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s closed: %s", p.Side, p.CloseReason),
		Message: fmt.Sprintf("%s %.2f to %.2f, P&L %+.2f%% ($%+.2f), capital $%.2f",
			p.Symbol, p.EntryPrice, exit, p.PnLPercent, p.PnLDollar, capital),
		Symbol:   p.Symbol,
		Position: &p,
		Capital:  &capital,
	}
}
