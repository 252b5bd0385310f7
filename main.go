// Command chat-warden is the main entrypoint for the moderation service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres, runs idempotent migrations, and reloads
//     persisted moderation state (lifting mutes that expired while down).
//   - Joins the configured Twitch channel and feeds chat into the
//     moderation engine, with sweep/cleanup/announcement background jobs
//     and an OAuth token refresher for the moderator credentials.
//   - Exposes an HTTP server with health, status, read views, and admin
//     endpoints plus /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chat-warden/chat"
	"github.com/onnwee/chat-warden/config"
	"github.com/onnwee/chat-warden/db"
	"github.com/onnwee/chat-warden/moderation"
	"github.com/onnwee/chat-warden/oauth"
	"github.com/onnwee/chat-warden/server"
	"github.com/onnwee/chat-warden/telemetry"
	"github.com/onnwee/chat-warden/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-warden", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	if err := db.SetKV(context.Background(), database, "service_started_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("failed to record service start", slog.Any("err", err))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Helix client for moderation actions and announcements. Without client
	// credentials the service still runs: violations are tracked and logged
	// but no remote action is taken.
	helix := buildHelixClient(ctx, cfg, database)
	var api moderation.ModerationAPI
	var bc moderation.Broadcaster
	if helix != nil {
		adapter := &helixModerator{hc: helix}
		api, bc = adapter, adapter
	} else {
		slog.Warn("helix moderation disabled (missing TWITCH_CLIENT_ID/SECRET); running in observe-only mode")
		nop := &logModerator{}
		api, bc = nop, nop
	}

	store := moderation.NewPGStore(database)
	mgr := moderation.NewManager(api, store, cfg.MuteDuration, 4)
	if err := mgr.ReconcileStartup(ctx); err != nil {
		slog.Error("startup reconciliation failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Event pipeline: IRC listener -> bounded queue -> single engine consumer.
	events := chat.NewEventQueue()
	go chat.StartListener(ctx, cfg, events)

	engine := moderation.NewEngine(cfg, mgr, bc)
	go engine.Run(ctx, events)
	engine.StartSweepJob(ctx)
	engine.StartCleanupJob(ctx)
	engine.StartAnnounceJob(ctx)

	// Keep the stored moderator token fresh for Helix calls.
	oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/views/admin/metrics)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, database, mgr, helix, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// buildHelixClient wires the Helix moderation client: app token source,
// stored user token (with static env fallback), and broadcaster/moderator id
// resolution. Returns nil when client credentials are absent.
func buildHelixClient(ctx context.Context, cfg *config.Config, database *sql.DB) *twitchapi.HelixClient {
	if err := cfg.ValidateModerationReady(); err != nil {
		return nil
	}
	hc := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		UserTokens:     &dbTokenProvider{db: database},
		ClientID:       cfg.TwitchClientID,
		BroadcasterID:  cfg.TwitchBroadcasterID,
	}

	rctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	if hc.BroadcasterID == "" && cfg.TwitchChannel != "" {
		id, err := hc.GetUserID(rctx, cfg.TwitchChannel)
		if err != nil {
			slog.Warn("broadcaster id resolution failed", slog.String("channel", cfg.TwitchChannel), slog.Any("err", err))
		} else {
			hc.BroadcasterID = id
		}
	}
	if cfg.TwitchBotUsername != "" {
		id, err := hc.GetUserID(rctx, cfg.TwitchBotUsername)
		if err != nil {
			slog.Warn("moderator id resolution failed", slog.String("login", cfg.TwitchBotUsername), slog.Any("err", err))
		} else {
			hc.ModeratorID = id
		}
	}
	return hc
}

// dbTokenProvider serves the moderator user token: the stored OAuth token
// when present, else the static TWITCH_OAUTH_TOKEN from the environment.
type dbTokenProvider struct {
	db *sql.DB
}

func (p *dbTokenProvider) Token(ctx context.Context) (string, error) {
	access, _, expiry, _, err := db.GetOAuthToken(ctx, p.db, "twitch")
	if err == nil && access != "" && (expiry.IsZero() || time.Now().Before(expiry)) {
		return access, nil
	}
	if tok := strings.TrimPrefix(os.Getenv("TWITCH_OAUTH_TOKEN"), "oauth:"); tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("no moderator token available")
}

// helixModerator adapts HelixClient to the moderation engine interfaces.
type helixModerator struct {
	hc *twitchapi.HelixClient
}

func (h *helixModerator) Mute(ctx context.Context, userID string, duration time.Duration, reason string) error {
	return h.hc.BanUser(ctx, userID, duration, reason)
}

func (h *helixModerator) Unmute(ctx context.Context, userID string) error {
	return h.hc.UnbanUser(ctx, userID)
}

func (h *helixModerator) SendMessage(ctx context.Context, text string) error {
	return h.hc.SendAnnouncement(ctx, text)
}

// logModerator is the observe-only fallback when Helix credentials are absent.
type logModerator struct{}

func (*logModerator) Mute(_ context.Context, userID string, duration time.Duration, reason string) error {
	slog.Info("observe-only: would mute", slog.String("user_id", userID), slog.Duration("duration", duration), slog.String("reason", reason))
	return nil
}

func (*logModerator) Unmute(_ context.Context, userID string) error {
	slog.Info("observe-only: would unmute", slog.String("user_id", userID))
	return nil
}

func (*logModerator) SendMessage(_ context.Context, text string) error {
	slog.Info("observe-only: would announce", slog.String("text", text))
	return nil
}
