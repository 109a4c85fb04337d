// Package app wires the orderdesk server runtime: config, logging, storage,
// the workflow services, HTTP routes, and the live audit feed.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"orderdesk/cmd/internal/api"
	"orderdesk/cmd/internal/approval"
	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/auditfeed"
	"orderdesk/cmd/internal/changerequest"
	"orderdesk/cmd/internal/magiclink"
	"orderdesk/cmd/internal/telemetry"
	"orderdesk/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App is the orderdesk server runtime.
type App struct {
	cfg Config
	log Logger

	backend *backend
	feed    *auditfeed.Feed
	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}

	codec, err := NewTokenCodec(cfg)
	if err != nil {
		return nil, err
	}
	staff, err := NewStaffAuth(cfg)
	if err != nil {
		return nil, err
	}

	b, err := openBackend(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, log, b, codec, staff)
	if err != nil {
		_ = b.close()
		return nil, err
	}
	return a, nil
}

func wire(cfg Config, log Logger, b *backend, codec *token.Codec, staff *api.StaffAuth) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	feedCfg := auditfeed.Config{
		AllowedOrigins: cfg.FeedAllowedOrigins,
		OriginRequired: cfg.FeedOriginRequired,
	}
	feed := auditfeed.New(feedCfg,
		auditfeed.WithLogger(log),
		auditfeed.WithMetrics(metrics),
		auditfeed.WithIdentity(api.FeedIdentity),
	)

	auditLog, err := audit.NewLogger(b.audit,
		audit.WithLogger(log),
		audit.WithMetrics(metrics),
		audit.WithSink(feed),
		audit.WithWriteTimeout(cfg.AuditWriteTimeout),
	)
	if err != nil {
		return nil, err
	}

	links, err := magiclink.NewManager(b.links, codec, auditLog,
		magiclink.WithTTL(cfg.LinkTTL),
		magiclink.WithBaseURL(cfg.PublicBaseURL),
		magiclink.WithMetrics(metrics),
		magiclink.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	orders, err := approval.NewMachine(b.orders, links, auditLog,
		approval.WithMetrics(metrics),
		approval.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	requests, err := changerequest.NewWorkflow(b.requests, links, auditLog,
		changerequest.WithMetrics(metrics),
		changerequest.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	h, err := api.NewHandler(log, api.Config{
		MaxBodyBytes:    cfg.MaxBodyBytes,
		MagicRateLimit:  cfg.MagicRateLimit,
		MagicRateWindow: cfg.MagicRateWindow,
	}, api.Services{
		Links:          links,
		Orders:         orders,
		ChangeRequests: requests,
		Audit:          auditLog,
		Feed:           feed,
	}, staff)
	if err != nil {
		return nil, err
	}

	log.Info("app.wired",
		"store", b.name,
		"token_peppered", codec.Peppered(),
		"link_ttl", cfg.LinkTTL.String(),
	)

	return &App{
		cfg:     cfg,
		log:     log,
		backend: b,
		feed:    feed,
		handler: newRouter(log, cfg, b.ping, reg, h.Routes()),
	}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.backend.name)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		// Feed subscribers hold hijacked connections that Shutdown does not wait for.
		a.feed.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	if cerr := a.Close(); cerr != nil {
		a.log.Error("store.close.fail", "err", cerr)
	}
	if err == nil {
		a.log.Info("server.stopped")
	}
	return err
}

// Close releases the feed and the storage backend.
func (a *App) Close() error {
	a.feed.Close()
	return a.backend.close()
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
