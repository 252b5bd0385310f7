// Package chat connects to Twitch IRC for the configured channel and feeds
// inbound messages into a bounded event queue consumed by the moderation
// engine. Arrival order is preserved; when the queue is full the newest event
// is dropped and counted rather than blocking the IRC read loop.
package chat

import (
	"context"
	"log/slog"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chat-warden/config"
	"github.com/onnwee/chat-warden/telemetry"
)

// Event is one inbound chat message as consumed by the moderation engine.
type Event struct {
	UserID      string
	DisplayName string
	Text        string
	At          time.Time
}

// QueueSize bounds the inbound event buffer between the IRC client and the
// single consuming engine goroutine.
const QueueSize = 1000

// NewEventQueue returns the bounded channel the listener publishes into.
func NewEventQueue() chan Event {
	return make(chan Event, QueueSize)
}

// StartListener connects to Twitch IRC, joins the configured channel, and
// publishes each PRIVMSG into events. It blocks until the context is
// canceled; connection errors are logged and the function returns so the
// caller decides whether to restart.
func StartListener(ctx context.Context, cfg *config.Config, events chan<- Event) {
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("twitch creds not set; skipping chat listener", slog.Any("err", err))
		return
	}
	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		ev := Event{
			UserID:      msg.User.ID,
			DisplayName: msg.User.DisplayName,
			Text:        msg.Message,
			At:          time.Now().UTC(),
		}
		if ev.DisplayName == "" {
			ev.DisplayName = msg.User.Name
		}
		select {
		case events <- ev:
			telemetry.SetQueueDepth(len(events))
		default:
			// Bounded backpressure: drop rather than stall the IRC read loop.
			if telemetry.MessagesDropped != nil {
				telemetry.MessagesDropped.Inc()
			}
			slog.Warn("event queue full; dropping message", slog.String("user", ev.DisplayName))
		}
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(cfg.TwitchChannel)
	slog.Info("chat listener connecting", slog.String("channel", cfg.TwitchChannel))
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}
