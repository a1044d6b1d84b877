// Package alert delivers user notifications over Telegram and records them
// in the per-user alert feed.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	telebot "gopkg.in/telebot.v3"

	"github.com/rigwatch/rigwatch/internal/domain"
	"github.com/rigwatch/rigwatch/internal/repository"
)

// Sender is the outbound transport. *telebot.Bot satisfies it; tests swap in
// a recorder.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Dispatcher resolves a user's alert settings and sends one message.
// Stateless by design: suppression windows live with the caller.
type Dispatcher struct {
	sender        Sender
	settings      repository.SettingsRepository
	alerts        repository.AlertRepository
	defaultChatID string
	log           *slog.Logger
	now           func() time.Time
}

// NewDispatcher builds the dispatcher. defaultChatID is the process-wide
// fallback target used when a user never configured their own chat.
func NewDispatcher(
	sender Sender,
	settings repository.SettingsRepository,
	alerts repository.AlertRepository,
	defaultChatID string,
	log *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		sender:        sender,
		settings:      settings,
		alerts:        alerts,
		defaultChatID: defaultChatID,
		log:           log,
		now:           time.Now,
	}
}

// NewTelegramBot constructs the underlying telebot instance. The bot is used
// purely as an outbound channel; no update polling is started.
func NewTelegramBot(token string) (*telebot.Bot, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		Offline: false,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	return bot, nil
}

// Notify sends message to the user's configured chat. Disabled alerts are a
// silent no-op. Transport errors are returned to the caller, which decides
// whether to swallow them.
func (d *Dispatcher) Notify(ctx context.Context, uid, message string) error {
	return d.notify(ctx, uid, domain.AlertRecord{
		Type:     domain.AlertTypeCustom,
		Message:  message,
		Severity: "info",
	})
}

// NotifyOffline reports a rig that exceeded the offline threshold.
func (d *Dispatcher) NotifyOffline(ctx context.Context, uid string, rig domain.Rig, offlineFor time.Duration) error {
	message := fmt.Sprintf(
		"ALERT: Rig %s (user %s) has been offline for more than %s!",
		rig.Name, uid, offlineFor.Truncate(time.Minute),
	)

	return d.notify(ctx, uid, domain.AlertRecord{
		RigID:    domain.NormalizeRigID(rig.ID),
		RigName:  rig.Name,
		Type:     domain.AlertTypeOffline,
		Message:  message,
		Severity: "critical",
	})
}

// NotifyPayout reports a payout outcome, success or failure.
func (d *Dispatcher) NotifyPayout(ctx context.Context, uid, message string) error {
	return d.notify(ctx, uid, domain.AlertRecord{
		Type:     domain.AlertTypePayout,
		Message:  message,
		Severity: "info",
	})
}

func (d *Dispatcher) notify(ctx context.Context, uid string, record domain.AlertRecord) error {
	settings, err := d.settings.GetAlertSettings(ctx, uid)
	if err != nil {
		return fmt.Errorf("resolve alert settings: %w", err)
	}

	if !settings.Enabled {
		return nil
	}

	chatID := settings.ChatID
	if chatID == "" {
		chatID = d.defaultChatID
	}
	if chatID == "" {
		if d.log != nil {
			d.log.Warn("no alert target configured", slog.String("uid", uid))
		}
		return nil
	}

	record.ID = uuid.NewString()
	record.Timestamp = d.now().UTC()

	if d.alerts != nil {
		if err := d.alerts.Append(ctx, uid, record); err != nil && d.log != nil {
			// the feed is best-effort; delivery still proceeds
			d.log.Error("failed to record alert", slog.String("uid", uid), slog.Any("error", err))
		}
	}

	if d.sender == nil {
		if d.log != nil {
			d.log.Warn("alert transport not configured, message dropped", slog.String("uid", uid))
		}
		return nil
	}

	if _, err := d.sender.Send(chatRecipient(chatID), record.Message); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}

	return nil
}

// chatRecipient adapts a stored chat identifier to a telebot recipient.
// Telegram chat ids are numeric but settings store them as strings.
type chatRecipient string

func (c chatRecipient) Recipient() string {
	return string(c)
}
