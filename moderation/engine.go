package moderation

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/chat-warden/chat"
	"github.com/onnwee/chat-warden/config"
	"github.com/onnwee/chat-warden/telemetry"
)

// Engine wires the pattern matcher, the two sliding-window trackers, the
// warning escalator, and the mute manager into the single event consumer.
// All per-identity counting state is confined here and in its components;
// HandleEvent runs on one goroutine so events for an identity are processed
// in arrival order.
type Engine struct {
	cfg       *config.Config
	matcher   *Matcher
	general   *Tracker
	keyword   *Tracker
	escalator *Escalator
	manager   *Manager
	announcer *Announcer
	now       func() time.Time
}

func NewEngine(cfg *config.Config, mgr *Manager, bc Broadcaster) *Engine {
	telemetry.Init()
	return &Engine{
		cfg:       cfg,
		matcher:   NewMatcher(cfg.TriggerPhrases),
		general:   NewTracker(cfg.TimeWindow, cfg.MaxMessages),
		keyword:   NewTracker(cfg.TimeWindow, cfg.KeywordMaxMessages),
		escalator: NewEscalator(),
		manager:   mgr,
		announcer: NewAnnouncer(bc, cfg.AnnounceText, cfg.AnnounceInterval),
		now:       time.Now,
	}
}

// Run consumes chat events until the context is cancelled.
func (e *Engine) Run(ctx context.Context, events <-chan chat.Event) {
	slog.Info("moderation engine started",
		slog.Duration("window", e.cfg.TimeWindow),
		slog.Int("max_messages", e.cfg.MaxMessages),
		slog.Int("keyword_max_messages", e.cfg.KeywordMaxMessages),
		slog.Int("escalation_threshold", e.cfg.EscalationThreshold))
	for {
		select {
		case <-ctx.Done():
			slog.Info("moderation engine stopped")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent records one message against both trackers and escalates at
// most one warning per event. A keyword flood takes priority over a plain
// message flood when both trip on the same message.
func (e *Engine) HandleEvent(ctx context.Context, ev chat.Event) {
	telemetry.MessagesSeen.Inc()
	now := e.now()

	var violated bool
	var reason Reason
	if !e.matcher.Empty() && e.matcher.Match(ev.Text) {
		telemetry.PatternMatches.Inc()
		if e.keyword.Record(ev.UserID, now) {
			violated = true
			reason = ReasonKeywordFlood
		}
	}
	if e.general.Record(ev.UserID, now) && !violated {
		violated = true
		reason = ReasonMessageFlood
	}
	if !violated {
		return
	}

	telemetry.Violations.Inc()
	count := e.escalator.OnViolation(ev.UserID)
	slog.Warn("rate violation",
		slog.String("user", ev.DisplayName),
		slog.String("user_id", ev.UserID),
		slog.String("reason", string(reason)),
		slog.Int("warnings", count))
	if count < e.cfg.EscalationThreshold {
		return
	}
	if _, _, err := e.manager.ApplyMute(ctx, ev.UserID, ev.DisplayName, reason); err != nil {
		slog.Error("escalation mute failed", slog.String("user_id", ev.UserID), slog.Any("err", err))
	}
}

// StartSweepJob lifts expired mutes on a fixed interval.
func (e *Engine) StartSweepJob(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				telemetry.TimeFunc(telemetry.SweepDuration, func() {
					e.manager.SweepExpired(ctx)
				})
			}
		}
	}()
}

// StartCleanupJob drops idle identities from both trackers, then clears
// warnings for identities no longer tracked anywhere.
func (e *Engine) StartCleanupJob(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.general.Cleanup(e.now())
				e.keyword.Cleanup(e.now())
				dropped := e.escalator.DropIdle(func(id string) bool {
					return e.general.Tracked(id) || e.keyword.Tracked(id)
				})
				telemetry.SetTrackedUsers(e.general.Size())
				if dropped > 0 {
					slog.Debug("idle identities cleared", slog.Int("dropped", dropped))
				}
			}
		}
	}()
}

// StartAnnounceJob ticks once a minute; the announcer enforces the real
// send interval itself so a failed send retries on the next tick.
func (e *Engine) StartAnnounceJob(ctx context.Context) {
	if e.cfg.AnnounceText == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.announcer.MaybeSend(ctx, e.now())
			}
		}
	}()
}
