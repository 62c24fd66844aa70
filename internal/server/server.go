// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/movebid/quoteform/internal/activity"
	"github.com/movebid/quoteform/internal/backend"
	"github.com/movebid/quoteform/internal/catalog"
	"github.com/movebid/quoteform/internal/config"
	"github.com/movebid/quoteform/internal/estimate"
	"github.com/movebid/quoteform/internal/event"
	"github.com/movebid/quoteform/internal/eventbus"
	"github.com/movebid/quoteform/internal/handler"
	"github.com/movebid/quoteform/internal/live"
	"github.com/movebid/quoteform/internal/options"
	"github.com/movebid/quoteform/internal/postal"
	"github.com/movebid/quoteform/internal/session"
	"github.com/movebid/quoteform/internal/storage"
	"github.com/movebid/quoteform/internal/verification"
	"github.com/movebid/quoteform/internal/web"
)

// Server owns the router and the background workers behind it.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	router   http.Handler
	sessions *session.Manager
	bus      *eventbus.Bus
	catalog  *catalog.Loader
	closers  []io.Closer
}

// New opens the configured storage backends and builds the router.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger}

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store)

	trail, closer, err := openActivity(ctx, cfg.Activity)
	if err != nil {
		s.Close()
		return nil, err
	}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}

	render, err := web.NewRenderer(logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	opts, err := options.Load()
	if err != nil {
		s.Close()
		return nil, err
	}

	s.bus = eventbus.New(256, logger.Named("eventbus"))
	s.bus.Subscribe("activity", event.NewActivityRecorder(trail))
	s.bus.Subscribe("log", eventbus.NewLogConsumer(logger.Named("events")))

	s.sessions = session.NewManager(store, cfg.GetSessionMaxAge(), cfg.GetSessionIdleTimeout(), logger.Named("session"))
	s.catalog = catalog.NewLoader(CatalogSource(cfg.Catalog), logger.Named("catalog"))

	var lookup handler.AddressLookup
	if cfg.Postal.Enabled {
		lookup = postal.NewClient(cfg.Postal.BaseURL, cfg.GetPostalTimeout())
	}
	api := backend.NewClient(cfg.Backend.BaseURL, cfg.GetBackendTimeout(), logger.Named("backend"))

	forms := &handler.Forms{
		Catalog: s.catalog,
		Options: opts,
		Postal:  lookup,
		Logger:  logger.Named("form"),
		Sample:  cfg.IsLocal(),
	}

	r := chi.NewRouter()
	r.Use(handler.RequestID, handler.Logging(logger.Named("http")), handler.Recovery(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/static/*", http.StripPrefix("/static/", web.Static()))

	// --- Estimate form ---
	est := handler.NewEstimateHandler(handler.EstimateConfig{
		Forms:       forms,
		Submitter:   api,
		Events:      s.bus,
		Renderer:    render,
		Logger:      logger.Named("estimate"),
		DevFallback: cfg.Dev.SubmitFallback,
	})
	r.Group(func(r chi.Router) {
		r.Use(s.sessions.Middleware(cfg.Server.SecureCookies))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, estimate.PathEntry, http.StatusFound)
		})
		r.Get("/estimate", est.HandleEntry)
		r.Post("/estimate", est.HandleConfirm)
		r.Post("/estimate/field", est.HandleField)
		r.Post("/estimate/luggage", est.HandleLuggage)
		r.Post("/estimate/restore", est.HandleRestore)
		r.Post("/estimate/reset", est.HandleReset)
		r.Get("/estimate/confirmation", est.HandleConfirmation)
		r.Post("/estimate/confirmation/edit", est.HandleEdit)
		r.Post("/estimate/submit", est.HandleSubmit)
		r.Get("/estimate/thanks", est.HandleThanks)
		r.Method(http.MethodGet, "/estimate/live", live.NewHandler(forms, nil, logger))
	})

	// --- Verification ---
	vh := handler.NewVerificationHandler(
		verification.NewService(api, s.bus, logger.Named("verification")),
		render, logger.Named("verification"))
	r.Get("/verify-email", vh.HandleVerifyEmail)
	r.Post("/verify-email/resend", vh.HandleResendEmail)
	r.Get("/verify-email-complete", vh.HandleVerifyComplete)
	r.Post("/verify-sms", vh.HandleVerifySMS)
	r.Post("/verify-sms/resend", vh.HandleResendSMS)
	r.Get("/complete", vh.HandleComplete)

	// --- JSON API ---
	ah := handler.NewAPIHandler(s.catalog, opts, lookup, logger.Named("api"))
	r.Get("/api/luggage", ah.HandleLuggage)
	r.Get("/api/options", ah.HandleOptions)
	r.Get("/api/postal/{zipcode}", ah.HandlePostal)

	if cfg.Activity.API {
		acth := handler.NewActivityHandler(trail)
		r.Get("/api/activity/{kind}/{id}", acth.HandleGetActivity)
		r.Post("/api/activity/search", acth.HandleSearchActivity)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Render(w, http.StatusNotFound, web.PageError, web.ErrorView{
			Title:   "ページが見つかりません",
			Message: "お探しのページは存在しないか、移動した可能性があります。",
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves HTTP until ctx is cancelled, alongside the event bus, the
// session sweeper and, when configured, the catalog file watcher.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.bus.Start(ctx)
	defer s.bus.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.sessions.Run(gctx, s.cfg.GetCleanupInterval())
	})
	if s.cfg.Catalog.Watch {
		g.Go(func() error {
			return catalog.Watch(gctx, s.catalog, s.cfg.Catalog.Path)
		})
	}
	g.Go(func() error {
		s.logger.Info("starting server",
			zap.String("addr", addr),
			zap.String("env", s.cfg.AppEnv),
			zap.String("storage", s.cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.cfg.GetShutdownTimeout())
		defer cancel()
		s.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the storage backends.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Run builds a Server from cfg and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	s, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Run(ctx)
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		st, err := storage.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite session storage: %w", err)
		}
		return st, nil
	case "badger":
		st, err := storage.OpenBadger(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening badger session storage: %w", err)
		}
		return st, nil
	}
	return storage.NewMemoryStore(), nil
}

func openActivity(ctx context.Context, cfg config.ActivityConfig) (activity.Store, io.Closer, error) {
	if cfg.Driver != "sqlite" {
		return activity.NewMemoryStore(), nil, nil
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening activity database: %w", err)
	}
	db.SetMaxOpenConns(1)
	st := activity.NewSQLStore(db)
	if err := st.CreateTable(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating activity table: %w", err)
	}
	return st, db, nil
}

// CatalogSource returns the catalog source selected by cfg.
func CatalogSource(cfg config.CatalogConfig) catalog.Source {
	switch cfg.Source {
	case "file":
		return catalog.FileSource{Path: cfg.Path}
	case "http":
		return catalog.HTTPSource{URL: cfg.URL, Client: &http.Client{Timeout: 10 * time.Second}}
	}
	return catalog.EmbeddedSource{}
}
