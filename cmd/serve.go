package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devsync-server/config"
	"devsync-server/core"
	"devsync-server/crdt"
	"devsync-server/documents"
	"devsync-server/handlers/api/rooms"
	"devsync-server/handlers/auth"
	"devsync-server/handlers/websocket"
	"devsync-server/hub"
	"devsync-server/membership"
	"devsync-server/metrics"
	authMiddleware "devsync-server/middleware"
	"devsync-server/presence"
	"devsync-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and socket.io server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("listen", ":5000", "The address to listen on.")
	serveCmd.Flags().String("loglevel", "info", "The log level (debug, info, warn, error).")
	rootCmd.AddCommand(serveCmd)
}

type routerDeps struct {
	verifier core.IdentityVerifier
	members  *membership.Service
	presence *presence.Tracker
	docs     *documents.Coordinator
	metrics  *metrics.Metrics
	socketIO http.Handler
}

func setupRouter(cfg *config.Config, deps routerDeps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Origin", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok", "service": "DevSync Backend"})
	})
	if deps.metrics != nil {
		r.Handle("/metrics", deps.metrics.Handler())
	}

	r.Route("/api/rooms", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT(deps.verifier))
		rooms.Mount(r, deps.members, deps.presence, deps.docs)
	})

	if deps.socketIO != nil {
		r.Mount("/socket.io/", deps.socketIO)
	}
	return r
}

func serve(ctx context.Context, cfg *config.Config) (err error) {
	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}

	engine, err := crdt.Lookup(cfg.Document.Engine)
	if err != nil {
		return err
	}
	store, err := stores.GetStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()

	authenticator := auth.NewAuthenticator(cfg.JWTSecret)
	members := membership.NewService(store)
	tracker := presence.NewTracker()
	docs := documents.NewCoordinator(documents.Options{
		Engine:        engine,
		IdleTimeout:   cfg.Document.IdleTimeout,
		SweepInterval: cfg.Document.SweepInterval,
		Activity:      tracker,
	})

	var h *hub.Hub
	m := metrics.New(metrics.Gauges{
		Connections: func() int { return h.Registry().Count() },
		Rooms:       func() int { return len(tracker.Rooms()) },
		Documents:   docs.Len,
	})

	ioo := websocket.NewServer(cfg)
	h = hub.New(hub.Options{
		Verifier:  authenticator,
		Members:   members,
		Presence:  tracker,
		Documents: docs,
		Out:       ioo,
		Metrics:   m,
	})
	members.Subscribe(h)
	ioo.Attach(h)

	r := setupRouter(cfg, routerDeps{
		verifier: authenticator,
		members:  members,
		presence: tracker,
		docs:     docs,
		metrics:  m,
		socketIO: ioo.Handler(),
	})
	srv := &http.Server{Addr: cfg.Listen, Handler: r}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logrus.WithFields(logrus.Fields{
			"addr":    cfg.Listen,
			"storage": cfg.Storage.Type,
			"engine":  engine.Name(),
		}).Info("starting server")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return docs.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down...")
		ioo.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
