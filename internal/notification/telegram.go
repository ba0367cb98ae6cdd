package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/elPachango/bitbot/internal/model"
	"github.com/elPachango/bitbot/internal/portfolio"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts via Telegram Bot API.
type TelegramNotifier struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		apiBase:  telegramAPI,
		botToken: botToken,
		chatID:   chatID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	text := formatTelegram(alert)

	body, _ := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	})

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}

// formatTelegram renders an alert as MarkdownV2. Trade alerts get one
// line per field instead of the free-text message.
func formatTelegram(alert Alert) string {
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}
	title := alert.Title
	if alert.Symbol != "" {
		title = alert.Symbol + " " + title
	}
	p := alert.Position
	if p == nil {
		return fmt.Sprintf("%s *%s*\n\n%s", emoji, escapeMarkdown(title), escapeMarkdown(alert.Message))
	}

	if p.Status == portfolio.StatusClosed {
		emoji = "✅"
		if p.PnLDollar < 0 {
			emoji = "❌"
		}
	} else if p.Side == model.SideShort {
		emoji = "🔻"
	} else {
		emoji = "🔺"
	}

	lines := []string{
		fmt.Sprintf("%s *%s*", emoji, escapeMarkdown(title)),
		"",
		field("Entry", fmt.Sprintf("%.2f", p.EntryPrice)),
	}
	if p.ClosePrice != nil {
		lines = append(lines,
			field("Exit", fmt.Sprintf("%.2f", *p.ClosePrice)),
			field("P&L", fmt.Sprintf("%+.2f%% ($%+.2f)", p.PnLPercent, p.PnLDollar)))
	} else {
		lines = append(lines,
			field("Stop", fmt.Sprintf("%.2f", p.InitialStop)),
			field("Size", fmt.Sprintf("$%.2f x%.0f", p.Stake, p.Leverage)))
	}
	if alert.Capital != nil {
		lines = append(lines, field("Capital", fmt.Sprintf("$%.2f", *alert.Capital)))
	}
	return strings.Join(lines, "\n")
}

func field(name, value string) string {
	return fmt.Sprintf("%s: `%s`", escapeMarkdown(name), escapeMarkdown(value))
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
