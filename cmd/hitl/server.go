package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/hitl/internal/adapter/discord"
	"github.com/Strob0t/hitl/internal/adapter/email"
	hitlhttp "github.com/Strob0t/hitl/internal/adapter/http"
	"github.com/Strob0t/hitl/internal/adapter/mcp"
	hitlnats "github.com/Strob0t/hitl/internal/adapter/nats"
	"github.com/Strob0t/hitl/internal/adapter/natskv"
	hitlotel "github.com/Strob0t/hitl/internal/adapter/otel"
	"github.com/Strob0t/hitl/internal/adapter/postgres"
	"github.com/Strob0t/hitl/internal/adapter/ristretto"
	"github.com/Strob0t/hitl/internal/adapter/slack"
	"github.com/Strob0t/hitl/internal/adapter/tiered"
	"github.com/Strob0t/hitl/internal/adapter/ws"
	"github.com/Strob0t/hitl/internal/config"
	"github.com/Strob0t/hitl/internal/domain/policy"
	"github.com/Strob0t/hitl/internal/domain/tool"
	"github.com/Strob0t/hitl/internal/fanout"
	"github.com/Strob0t/hitl/internal/middleware"
	"github.com/Strob0t/hitl/internal/port/cache"
	"github.com/Strob0t/hitl/internal/port/notifier"
	"github.com/Strob0t/hitl/internal/resilience"
	"github.com/Strob0t/hitl/internal/service"
)

// runServer wires the coordinator to every configured adapter and serves
// until ctx is cancelled.
func runServer(ctx context.Context, cfg *config.Config) error {
	// --- Telemetry ---

	shutdownOTEL, err := hitlotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := hitlotel.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Core ---

	hub := fanout.New(
		fanout.WithQueueSize(cfg.Fanout.QueueSize),
		fanout.WithSendTimeout(cfg.Fanout.SendTimeout),
		fanout.WithDropHook(func(_ fanout.Sink, reason error) { metrics.ObserverDropped(reason) }),
	)
	defer hub.Close()

	var profile *policy.Profile
	if cfg.Policy.File != "" {
		if profile, err = policy.LoadFromFile(cfg.Policy.File); err != nil {
			return err
		}
		slog.Info("policy profile loaded", "profile", profile.Name, "rules", len(profile.Rules))
	}
	tools := service.NewToolbox(service.WithPolicyProfile(profile))
	if err := registerTools(tools, service.DemoTools()); err != nil {
		return err
	}
	coord := service.NewCoordinator(hub, tools, service.WithMetrics(metrics))

	health := &healthStatus{}

	// --- Infrastructure (all optional) ---

	var l2 cache.Cache
	if cfg.NATS.URL != "" {
		queue, err := hitlnats.Connect(ctx, cfg.NATS.URL,
			hitlnats.WithMaxRetries(cfg.NATS.MaxRetries),
			hitlnats.WithStreamMaxAge(cfg.NATS.StreamMaxAge),
		)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		health.nats = queue.IsConnected

		if cfg.NATS.Mirror {
			mirror := hitlnats.NewMirror(queue, newBreaker("nats", cfg.Breaker))
			if err := coord.Attach(ctx, mirror); err != nil {
				return fmt.Errorf("nats mirror: %w", err)
			}
		}
		if cfg.NATS.Resolver {
			resolver := hitlnats.NewResolver(queue, coord)
			if err := resolver.Start(ctx); err != nil {
				return fmt.Errorf("nats resolver: %w", err)
			}
			defer resolver.Stop()
		}
		if cfg.Idempotency.Enabled {
			kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
			if err != nil {
				return fmt.Errorf("idempotency kv: %w", err)
			}
			l2 = natskv.New(kv)
		}
	}

	if cfg.Postgres.DSN != "" {
		if cfg.Postgres.AutoMigrate {
			if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			slog.Info("migrations applied")
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		health.postgres = func() bool { return pool.Ping(ctx) == nil }

		archive := postgres.NewArchive(pool, newBreaker("postgres", cfg.Breaker))
		if err := coord.Attach(ctx, archive); err != nil {
			return fmt.Errorf("audit archive: %w", err)
		}
		slog.Info("audit archive attached")
	}

	for _, n := range notifiers(cfg) {
		sink := service.NewNotifySink(n, newBreaker(n.Name(), cfg.Breaker), cfg.Server.UIURL)
		if err := coord.Attach(ctx, sink); err != nil {
			return fmt.Errorf("%s notifier: %w", n.Name(), err)
		}
		slog.Info("notifier attached", "notifier", n.Name())
	}

	// --- HTTP ---

	var resolveMW []func(http.Handler) http.Handler
	if cfg.Idempotency.Enabled {
		l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
		if err != nil {
			return fmt.Errorf("idempotency cache: %w", err)
		}
		defer l1.Close()
		store := cache.Namespaced(tiered.New(l1, l2, cfg.Idempotency.TTL), "idem:")
		resolveMW = append(resolveMW, middleware.Idempotency(store, cfg.Idempotency.TTL))
	}

	wsHub := ws.NewHub(coord, cfg.Server.CORSOrigin)
	health.observers = hub.Count

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hitlhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(hitlhttp.SecurityHeaders)
	r.Use(hitlhttp.Logger)
	r.Use(chimw.Recoverer)
	if cfg.OTEL.Enabled {
		r.Use(hitlotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	}
	if cfg.Rate.Enabled {
		rl := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst,
			middleware.WithExemptPaths("/health", "/ws"),
		)
		rl.StartCleanup(ctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
		r.Use(rl.Handler)
	}

	r.Get("/health", health.handler())
	r.Get("/ws", wsHub.HandleWS)
	hitlhttp.MountRoutes(r, &hitlhttp.Handlers{
		Coordinator: coord,
		BodyLimit:   cfg.Server.BodyLimit,
	}, resolveMW...)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- MCP ---

	var mcpSrv *mcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcp.NewServer(mcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "hitl",
			Version: version,
			Path:    cfg.MCP.Path,
		}, coord)
		if err := mcpSrv.Start(); err != nil {
			return err
		}
	}

	// --- Run ---

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if mcpSrv != nil {
			errs = append(errs, mcpSrv.Stop(sctx))
		}
		errs = append(errs, srv.Shutdown(sctx))
		return errors.Join(errs...)
	})
	return g.Wait()
}

func registerTools(b *service.Toolbox, tools []tool.Tool) error {
	for _, t := range tools {
		if err := b.Register(t); err != nil {
			return fmt.Errorf("register tools: %w", err)
		}
	}
	return nil
}

// notifiers returns the out-of-band channels that are configured.
func notifiers(cfg *config.Config) []notifier.Notifier {
	var out []notifier.Notifier
	if cfg.Slack.WebhookURL != "" {
		out = append(out, slack.NewNotifier(cfg.Slack.WebhookURL))
	}
	if cfg.Discord.WebhookURL != "" {
		out = append(out, discord.NewNotifier(cfg.Discord.WebhookURL))
	}
	if cfg.Email.Host != "" {
		out = append(out, email.NewNotifier(email.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			From:     cfg.Email.From,
			Password: cfg.Email.Password,
			To:       cfg.Email.To,
		}))
	}
	return out
}

func newBreaker(name string, cfg config.Breaker) *resilience.Breaker {
	return resilience.NewBreaker(name, cfg.MaxFailures, cfg.Timeout,
		resilience.WithStateHook(func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
		}),
	)
}

// healthStatus reports the optional backends that are configured.
type healthStatus struct {
	nats      func() bool
	postgres  func() bool
	observers func() int
}

func (h *healthStatus) handler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Observers int    `json:"observers"`
		NATS      string `json:"nats"`
		Postgres  string `json:"postgres"`
	}
	state := func(check func() bool) string {
		switch {
		case check == nil:
			return "disabled"
		case check():
			return "ok"
		default:
			return "down"
		}
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		resp := response{
			Status:   "ok",
			NATS:     state(h.nats),
			Postgres: state(h.postgres),
		}
		if h.observers != nil {
			resp.Observers = h.observers()
		}
		if resp.NATS == "down" || resp.Postgres == "down" {
			resp.Status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
