// Package notify forwards engine events to the venue managers over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"reservas/internal/events"
	"reservas/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramSender is the subset of *tgbotapi.BotAPI the notifier uses.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// RetryConfig holds per-message retry delays.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		RetryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
	}
}

const queueSize = 256

// Notifier sends confirmations and orphaned payments to manager chats.
// Events are queued by the bus handler and delivered by Run, so a slow
// Telegram API never holds up a confirmation.
type Notifier struct {
	sender  TelegramSender
	chatIDs []int64
	retry   RetryConfig
	queue   chan events.Event
	logger  *zerolog.Logger
}

func NewNotifier(sender TelegramSender, chatIDs []int64, retry RetryConfig, logger *zerolog.Logger) *Notifier {
	l := logger.With().Str("component", "notify").Logger()
	return &Notifier{
		sender:  sender,
		chatIDs: chatIDs,
		retry:   retry,
		queue:   make(chan events.Event, queueSize),
		logger:  &l,
	}
}

// Subscribe registers the notifier on bus.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.ReservationConfirmed, n.enqueue)
	bus.Subscribe(events.PaymentOrphaned, n.enqueue)
}

func (n *Notifier) enqueue(e events.Event) error {
	select {
	case n.queue <- e:
		return nil
	default:
		return fmt.Errorf("notification queue full, dropping %s", e.Type)
	}
}

// Run delivers queued events until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.queue:
			if err := n.Deliver(ctx, e); err != nil {
				n.logger.Error().Err(err).Str("event", e.Type).Str("key", e.Key).Msg("Manager notification failed")
			}
		}
	}
}

// Deliver formats e and sends it to every manager chat.
func (n *Notifier) Deliver(ctx context.Context, e events.Event) error {
	text, err := Format(e)
	if err != nil {
		return err
	}
	var errs []error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if err := n.sendWithRetry(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) sendWithRetry(ctx context.Context, msg tgbotapi.MessageConfig) error {
	var lastErr error
	for attempt := 0; attempt <= n.retry.MaxRetries; attempt++ {
		_, err := n.sender.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		var wait time.Duration
		if attempt < len(n.retry.RetryDelays) {
			wait = n.retry.RetryDelays[attempt]
		}
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case http.StatusTooManyRequests:
				if tgErr.RetryAfter > 0 {
					wait = time.Duration(tgErr.RetryAfter) * time.Second
				}
			case http.StatusBadRequest, http.StatusForbidden:
				return err
			}
		}
		if attempt == n.retry.MaxRetries {
			break
		}
		n.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Int64("chat_id", msg.ChatID).Msg("Retrying Telegram send")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// Format renders the manager message for e.
func Format(e events.Event) (string, error) {
	switch e.Type {
	case events.ReservationConfirmed:
		var res models.Reservation
		if err := e.Decode(&res); err != nil {
			return "", err
		}
		return formatConfirmed(&res), nil
	case events.PaymentOrphaned:
		var a models.PaymentAttempt
		if err := e.Decode(&a); err != nil {
			return "", err
		}
		return formatOrphaned(&a), nil
	}
	return "", fmt.Errorf("no message for event %q", e.Type)
}

func formatConfirmed(r *models.Reservation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Nueva reserva %s\n", r.Code)
	fmt.Fprintf(&sb, "Cancha %d, %s %s-%s\n", r.Slot.CourtID, r.Slot.DateKey(),
		models.FormatClock(r.Slot.Start), models.FormatClock(r.Slot.End))
	fmt.Fprintf(&sb, "Cliente: %s <%s>\n", r.Customer.Name, r.Customer.Email)
	if r.Customer.Phone != "" {
		fmt.Fprintf(&sb, "Teléfono: %s\n", r.Customer.Phone)
	}
	fmt.Fprintf(&sb, "Total: %d", r.NetPrice)
	if r.DiscountCode != "" {
		fmt.Fprintf(&sb, " (código %s, -%d)", r.DiscountCode, r.DiscountAmount)
	}
	fmt.Fprintf(&sb, "\nComisión: %d (%s)", r.Commission.TotalAmount, r.Channel)
	return sb.String()
}

func formatOrphaned(a *models.PaymentAttempt) string {
	return fmt.Sprintf("Pago sin reserva %s\nCobro %d autorizado como %s después de expirar la retención.\n"+
		"Cancha %d, %s %s-%s, cliente %s <%s>.\nRequiere revisión manual.",
		a.Reference, a.NetPrice, a.AuthorizationCode,
		a.Slot.CourtID, a.Slot.DateKey(), models.FormatClock(a.Slot.Start), models.FormatClock(a.Slot.End),
		a.Customer.Name, a.Customer.Email)
}
