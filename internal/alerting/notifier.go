package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"balance-alerts/internal/telegram"
)

const deliveryAttempts = 3

var retryBackoff = 2 * time.Second

// Notifier delivers a rendered message to the fixed destination.
type Notifier interface {
	Notify(ctx context.Context, text string, silent bool) error
}

// TelegramNotifier pushes messages to one pre-configured chat via the
// Bot API, retrying transient delivery failures a bounded number of
// times. The alerting decision is already durable by the time Notify is
// called, so exhausted retries drop the message rather than roll back.
type TelegramNotifier struct {
	client *telegram.Client
	chatID string
	logger zerolog.Logger
}

// NewTelegramNotifier constructs the notifier for the fixed chat.
func NewTelegramNotifier(client *telegram.Client, chatID string, logger zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		client: client,
		chatID: chatID,
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the text, silently when requested.
func (n *TelegramNotifier) Notify(ctx context.Context, text string, silent bool) error {
	var lastErr error
	for attempt := 0; attempt < deliveryAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(retryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := n.client.SendMessage(ctx, n.chatID, text, silent); err != nil {
			lastErr = err
			n.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("delivery attempt failed")
			continue
		}

		n.logger.Info().Bool("silent", silent).Msg("message delivered")
		return nil
	}

	return fmt.Errorf("deliver message after %d attempts: %w", deliveryAttempts, lastErr)
}

var _ Notifier = (*TelegramNotifier)(nil)
