package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/embedkit/internal/backup"
	"github.com/nextlevelbuilder/embedkit/internal/chatkit"
	"github.com/nextlevelbuilder/embedkit/internal/config"
	"github.com/nextlevelbuilder/embedkit/internal/guard"
	httpapi "github.com/nextlevelbuilder/embedkit/internal/http"
	"github.com/nextlevelbuilder/embedkit/internal/issuance"
	"github.com/nextlevelbuilder/embedkit/internal/logging"
	"github.com/nextlevelbuilder/embedkit/internal/ratelimit"
	"github.com/nextlevelbuilder/embedkit/internal/resolver"
	"github.com/nextlevelbuilder/embedkit/internal/tracing/otelexport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

// tunableLimiter is a limiter whose policy can be swapped on config reload.
type tunableLimiter interface {
	ratelimit.Limiter
	SetPolicy(ratelimit.Policy)
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.Telemetry.Enabled {
		tp, err := otelexport.New(ctx, otelexport.Config{
			Endpoint:    cfg.Telemetry.Endpoint,
			Protocol:    cfg.Telemetry.Protocol,
			Insecure:    cfg.Telemetry.Insecure,
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     Version,
		})
		if err != nil {
			slog.Warn("OpenTelemetry export disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				tp.Shutdown(shutdownCtx)
			}()
		}
	}

	g := guard.New(cfg.Security.DashboardPassword)
	if !g.Required() {
		slog.Warn("dashboard password not set; config writes are open to anyone who can reach the server")
	}

	mutation := rt.newLimiter("mutation", mutationPolicy(cfg))
	issuanceLimiter := rt.newLimiter("issuance", issuancePolicy(cfg))

	var defaultCredential atomic.Pointer[string]
	defaultCredential.Store(&cfg.Upstream.DefaultCredential)

	upstream := chatkit.NewClient(chatkit.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Beta:    cfg.Upstream.Beta,
		Timeout: cfg.UpstreamTimeout(),
		MaxRPS:  cfg.Upstream.MaxRPS,
	})
	res := resolver.New(rt.store, func() string { return *defaultCredential.Load() })
	svc := issuance.NewService(res, upstream)

	srv := httpapi.NewServer(httpapi.Options{
		Addr:       cfg.Server.Listen,
		Store:      rt.store,
		Issuer:     svc,
		Guard:      g,
		Mutation:   mutation,
		Issuance:   issuanceLimiter,
		TrustProxy: cfg.Server.TrustProxy,
	})

	// Everything that can fail is built before the server starts, so an
	// early return never leaves a running goroutine behind.
	var background []func(context.Context) error

	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		w, err := config.NewWatcher(cfgPath)
		if err != nil {
			return err
		}
		defer w.Close()
		w.OnChange(func(next *config.Config) {
			g.SetSecret(next.Security.DashboardPassword)
			mutation.SetPolicy(mutationPolicy(next))
			issuanceLimiter.SetPolicy(issuancePolicy(next))
			level.Set(logging.ParseLevel(next.Log.Level))
			defaultCredential.Store(&next.Upstream.DefaultCredential)
		})
		background = append(background, w.Run)
	}

	if cfg.Backup.Bucket != "" && cfg.Backup.Schedule != "" {
		runner, err := rt.backupRunner(ctx)
		if err != nil {
			return err
		}
		background = append(background, func(ctx context.Context) error {
			return backup.Schedule(ctx, runner, cfg.Backup.Schedule)
		})
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return srv.Run(ctx) })
	for _, run := range background {
		eg.Go(func() error { return run(ctx) })
	}

	slog.Info("embedkit started",
		"version", Version,
		"listen", cfg.Server.Listen,
		"backend", rt.store.Backend(),
		"dashboard_auth", g.Required(),
		"shared_rate_limit", cfg.RateLimit.Shared,
	)
	return eg.Wait()
}

func (rt *app) newLimiter(name string, p ratelimit.Policy) tunableLimiter {
	if rt.cfg.RateLimit.Shared && rt.redis != nil {
		return ratelimit.NewRedis(rt.redis, rt.cfg.Store.RedisPrefix, name, p)
	}
	return ratelimit.NewMemory(name, p, rt.cfg.RateLimit.MaxKeys)
}

func mutationPolicy(cfg *config.Config) ratelimit.Policy {
	return ratelimit.Policy{Limit: cfg.RateLimit.MutationPerWindow, Window: cfg.RateWindow()}
}

func issuancePolicy(cfg *config.Config) ratelimit.Policy {
	return ratelimit.Policy{Limit: cfg.RateLimit.IssuancePerWindow, Window: cfg.RateWindow()}
}
