package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/elPachango/bitbot/internal/model"
	"github.com/elPachango/bitbot/internal/portfolio"
)

// Webhook event names.
const (
	EventAlert          = "alert"
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
)

// WebhookNotifier posts alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// webhookTrade is the trade section of a webhook payload.
type webhookTrade struct {
	ID          string     `json:"id"`
	Side        model.Side `json:"side"`
	Entry       float64    `json:"entry"`
	Stop        float64    `json:"stop"`
	Stake       float64    `json:"stake"`
	Leverage    float64    `json:"leverage"`
	Notional    float64    `json:"notional"`
	Exit        *float64   `json:"exit,omitempty"`
	PnLPercent  float64    `json:"pnl_percent"`
	PnLDollar   float64    `json:"pnl_dollar"`
	CloseReason string     `json:"close_reason,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

type webhookPayload struct {
	Event   string        `json:"event"`
	Level   AlertLevel    `json:"level"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Symbol  string        `json:"symbol,omitempty"`
	Trade   *webhookTrade `json:"trade,omitempty"`
	Capital *float64      `json:"capital,omitempty"`
	Source  string        `json:"source"`
	TS      string        `json:"ts"`
}

// payload flattens an alert into its webhook body. A closed position
// reports its exit price and final P&L; an open one omits the exit.
func (w *WebhookNotifier) payload(alert Alert) webhookPayload {
	out := webhookPayload{
		Event:   EventAlert,
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Symbol:  alert.Symbol,
		Capital: alert.Capital,
		Source:  "bitbot",
		TS:      w.now().UTC().Format(time.RFC3339Nano),
	}
	p := alert.Position
	if p == nil {
		return out
	}
	out.Event = EventPositionOpened
	if p.Status == portfolio.StatusClosed {
		out.Event = EventPositionClosed
	}
	out.Trade = &webhookTrade{
		ID:          p.ID,
		Side:        p.Side,
		Entry:       p.EntryPrice,
		Stop:        p.InitialStop,
		Stake:       p.Stake,
		Leverage:    p.Leverage,
		Notional:    p.Notional,
		Exit:        p.ClosePrice,
		PnLPercent:  p.PnLPercent,
		PnLDollar:   p.PnLDollar,
		CloseReason: p.CloseReason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
	}
	return out
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(w.payload(alert))
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[webhook] sent %s for %s", alert.Title, alert.Symbol)
	return nil
}
