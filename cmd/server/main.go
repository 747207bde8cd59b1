package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/pscheid92/whispercmd/internal/access"
	"github.com/pscheid92/whispercmd/internal/adapter/httpserver"
	"github.com/pscheid92/whispercmd/internal/adapter/metrics"
	"github.com/pscheid92/whispercmd/internal/adapter/redis"
	"github.com/pscheid92/whispercmd/internal/adapter/twitch"
	"github.com/pscheid92/whispercmd/internal/app"
	"github.com/pscheid92/whispercmd/internal/domain"
	"github.com/pscheid92/whispercmd/internal/platform/config"
	"github.com/pscheid92/whispercmd/internal/platform/logging"
	"github.com/pscheid92/whispercmd/internal/platform/version"
)

const (
	setupTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type appMetrics struct {
	registry *prometheus.Registry
	dispatch *metrics.DispatchMetrics
	send     *metrics.SendMetrics
	cache    *metrics.CacheMetrics
	breaker  *metrics.BreakerMetrics
	redis    *metrics.RedisMetrics
	http     *metrics.HTTPMetrics
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupMetrics() appMetrics {
	reg := metrics.NewRegistry()
	return appMetrics{
		registry: reg,
		dispatch: metrics.NewDispatchMetrics(reg),
		send:     metrics.NewSendMetrics(reg),
		cache:    metrics.NewCacheMetrics(reg),
		breaker:  metrics.NewBreakerMetrics(reg),
		redis:    metrics.NewRedisMetrics(reg),
		http:     metrics.NewHTTPMetrics(reg),
	}
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.RedisMetrics) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL, redis.NewMetricsHook(m))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupACL restores the saved table. The configured users and global commands
// only seed a table that has never been saved.
func setupACL(ctx context.Context, cfg *config.Config, svc *app.ACLService) error {
	users, err := app.ParseUserSpecs(cfg.ACLUsers)
	if err != nil {
		return fmt.Errorf("invalid ACL_USERS: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	return svc.LoadOrBootstrap(ctx, users, app.ParseCommandList(cfg.GlobalCommands))
}

func initEventSub(cfg *config.Config) *twitch.EventSubManager {
	client, err := twitch.NewAppClient(cfg.TwitchClientID, cfg.TwitchClientSecret)
	if err != nil {
		slog.Error("Failed to create Twitch app client", "error", err)
		os.Exit(1)
	}

	mgr := twitch.NewEventSubManager(client, cfg.WebhookCallbackURL, cfg.WebhookSecret)

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	if err := mgr.Setup(ctx); err != nil {
		slog.Error("Failed to setup webhook conduit", "error", err)
		os.Exit(1)
	}
	return mgr
}

func healthChecks(redisClient *goredis.Client, mgr *twitch.EventSubManager, transport *twitch.WhisperTransport, poster *twitch.WhisperPoster) []httpserver.HealthCheck {
	var checks []httpserver.HealthCheck

	if redisClient != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	checks = append(checks,
		httpserver.HealthCheck{
			Name: "eventsub_conduit",
			Check: func(context.Context) error {
				if !mgr.Ready() {
					return errors.New("conduit not configured")
				}
				return nil
			},
		},
		httpserver.HealthCheck{
			Name: "whisper_stream",
			Check: func(context.Context) error {
				if !transport.Connected() {
					return errors.New("whisper stream not subscribed")
				}
				return nil
			},
		},
		httpserver.HealthCheck{
			Name:     "helix_breaker",
			Optional: true,
			Check: func(context.Context) error {
				if state := poster.State(); state != gobreaker.StateClosed {
					return fmt.Errorf("circuit %s", state)
				}
				return nil
			},
		},
	)
	return checks
}

func runGracefulShutdown(srv *httpserver.Server, stopDispatch context.CancelFunc, dispatchDone <-chan struct{}, messenger *app.Messenger, conduitMgr *twitch.EventSubManager) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// closing the stream removes the whisper subscription
		stopDispatch()
		<-dispatchDone
		messenger.Wait()

		if err := conduitMgr.Cleanup(shutdownCtx); err != nil {
			slog.Error("Failed to clean up conduit", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.Version, "commit", info.Commit)

	m := setupMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// tags our own ACL change announcements
	instanceID := uuid.NewString()

	var (
		redisClient *goredis.Client
		redisRepo   *redis.ACLRepo
		aclRepo     domain.ACLRepository
	)
	if cfg.RedisURL != "" {
		redisClient = setupRedis(ctx, cfg, m.redis)
		defer func() { _ = redisClient.Close() }()
		redisRepo = redis.NewACLRepo(redisClient, "", instanceID)
		aclRepo = redisRepo
	} else {
		slog.Warn("REDIS_URL not set, access-control changes will not survive a restart")
	}

	store := access.NewStore()
	aclSvc := app.NewACLService(store, aclRepo)
	if err := setupACL(ctx, cfg, aclSvc); err != nil {
		slog.Error("Failed to set up access control", "error", err)
		os.Exit(1)
	}
	if redisRepo != nil {
		go redis.NewACLChangeSubscriber(redisClient, redisRepo, instanceID, aclSvc.Load).Start(ctx)
	}

	eventsubMgr := initEventSub(cfg)
	transport := twitch.NewWhisperTransport(eventsubMgr, cfg.TwitchBotUserID)
	webhookHandler := twitch.NewWebhookHandler(cfg.WebhookSecret, transport, clock)

	userClient := twitch.NewUserClient(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchBotAccessToken)
	poster := twitch.NewWhisperPoster(twitch.NewWhisperAPI(userClient), cfg.TwitchBotUserID,
		twitch.WithPosterClock(clock),
		twitch.WithPostTimeout(cfg.PostTimeout),
		twitch.WithCacheObserver(m.cache),
		twitch.WithBreakerObserver(m.breaker),
	)

	messenger := app.NewMessenger(poster,
		app.WithMessengerClock(clock),
		app.WithSendRecorder(m.send),
		app.WithFailureHandler(func(ctx context.Context, err *app.SendError) {
			m.send.ObserveChainFailure(err.Skipped)
			slog.ErrorContext(ctx, "Send chain halted", "recipient", err.Recipient, "skipped", err.Skipped, "error", err.Err)
		}),
	)

	subscribeCtx, subscribeCancel := context.WithTimeout(ctx, setupTimeout)
	dispatcher, err := app.NewDispatcher(subscribeCtx, transport, messenger, store,
		app.DispatcherConfig{Key: cfg.CommandKey, AllowAll: cfg.AllowAll},
		app.WithDispatchClock(clock),
		app.WithDispatchRecorder(m.dispatch),
	)
	subscribeCancel()
	if err != nil {
		slog.Error("Failed to start dispatcher", "error", err)
		os.Exit(1)
	}
	dispatcher.RegisterCommand("version", app.NewVersionCommand(messenger))

	srv := httpserver.NewServer(cfg, aclSvc, dispatcher, messenger, http.HandlerFunc(webhookHandler.HandleEventSub),
		httpserver.WithMetrics(metrics.Handler(m.registry), m.http.Middleware()),
		httpserver.WithHealthChecks(healthChecks(redisClient, eventsubMgr, transport, poster)...),
		httpserver.WithClock(clock),
	)

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatcher.Run(dispatchCtx); err != nil {
			slog.Error("Dispatcher stopped", "error", err)
		}
	}()

	done := runGracefulShutdown(srv, stopDispatch, dispatchDone, messenger, eventsubMgr)

	slog.Info("Server starting", "port", cfg.Port, "commands", dispatcher.Commands(), "allow_all", cfg.AllowAll)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
