package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"surplus-watcher/internal/inventory"
)

// Digest bundles the transition events one poll cycle produced for one
// entity. The core hands a digest to each configured channel and moves on;
// delivery is the channel's concern.
type Digest struct {
	EntityName string
	Recipient  string
	PolledAt   time.Time
	Events     []inventory.Event
}

// Notifier defines a notification channel.
type Notifier interface {
	Notify(ctx context.Context, digest Digest) error
}

// Multi fans a digest out to several channels. Each channel gets a chance
// even when an earlier one fails; failures are joined.
type Multi []Notifier

// Notify dispatches to every channel.
func (m Multi) Notify(ctx context.Context, digest Digest) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, digest); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TelegramNotifier pushes digests through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify renders the digest as text and calls the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, digest Digest) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderDigest(digest),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("entity", digest.EntityName).
		Int("events", len(digest.Events)).
		Msg("digest sent (Telegram)")
	return nil
}

// RenderDigest formats a digest as a plain text message, one line per
// transition.
func RenderDigest(digest Digest) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s] %d change(s) at %s UTC\n",
		digest.EntityName, len(digest.Events), digest.PolledAt.UTC().Format(time.RFC3339)))

	for _, event := range digest.Events {
		builder.WriteString(renderEvent(event))
		builder.WriteString("\n")
	}
	return builder.String()
}

func renderEvent(event inventory.Event) string {
	name := event.ItemID
	if event.Current != nil && event.Current.Name != "" {
		name = event.Current.Name
	} else if event.Previous != nil && event.Previous.Name != "" {
		name = event.Previous.Name
	}

	switch event.Kind {
	case inventory.KindNewItem:
		return fmt.Sprintf("NEW %s: %d available at %s", name, event.Current.Quantity, event.Current.Price)
	case inventory.KindSoldOut:
		return fmt.Sprintf("SOLD OUT %s", name)
	case inventory.KindBackInStock:
		return fmt.Sprintf("BACK IN STOCK %s: %d available", name, event.Current.Quantity)
	case inventory.KindWindowOpened:
		return fmt.Sprintf("WINDOW OPEN %s%s", name, renderWindow(event.Current))
	case inventory.KindWindowClosed:
		return fmt.Sprintf("WINDOW CLOSED %s", name)
	case inventory.KindDisappeared:
		return fmt.Sprintf("DELISTED %s", name)
	case inventory.KindAttributesChanged:
		return fmt.Sprintf("CHANGED %s: %s%s", name, strings.Join(event.Changed, ", "), renderPriceChange(event))
	default:
		return fmt.Sprintf("%s %s", strings.ToUpper(string(event.Kind)), name)
	}
}

func renderWindow(snap *inventory.Snapshot) string {
	if snap == nil || snap.WindowStart == nil || snap.WindowEnd == nil {
		return ""
	}
	return fmt.Sprintf(" (%s - %s)",
		snap.WindowStart.UTC().Format("15:04"), snap.WindowEnd.UTC().Format("15:04"))
}

func renderPriceChange(event inventory.Event) string {
	if event.Previous == nil || event.Current == nil {
		return ""
	}
	if event.Previous.Price.Equal(event.Current.Price) {
		return ""
	}
	return fmt.Sprintf(" (%s -> %s)", event.Previous.Price, event.Current.Price)
}

var _ Notifier = (*TelegramNotifier)(nil)
var _ Notifier = (Multi)(nil)
