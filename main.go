package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"workflow-preview/config"
	"workflow-preview/core"
	"workflow-preview/handlers/api/previews"
	limits "workflow-preview/middleware"
	"workflow-preview/notify"
	"workflow-preview/preview"
	"workflow-preview/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func setupRouter(cfg *config.Config, svc previews.Service, store core.ObjectStore, hub *notify.Hub) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/healthz", previews.HandleHealth(store.Backend()))

	r.Route("/api", func(r chi.Router) {
		r.Use(limits.MaxBodyBytes(cfg.MaxUploadBytes))
		r.Post("/workflow-preview", previews.HandlePublish(svc))

		r.Route("/workflows/{workflowId}/previews", func(r chi.Router) {
			r.Get("/", previews.HandleListPreviews(svc))
			r.Post("/", previews.HandleGenerate(svc))
			r.Route("/{previewId}", func(r chi.Router) {
				r.Get("/", previews.HandleGetPreview(svc))
				r.Delete("/", previews.HandleDeletePreview(svc))
			})
		})
	})

	// Development mode serves stored previews itself.
	if cfg.Storage.Mode == config.StorageFilesystem {
		fileServer := http.StripPrefix("/previews/", http.FileServer(http.Dir(cfg.Storage.LocalPath)))
		r.Handle("/previews/*", cacheForever(fileServer))
	}

	if hub != nil {
		r.Mount("/socket.io/", hub.Handler())
	}

	return r
}

// cacheForever applies the cache policy of stored previews to locally served files.
func cacheForever(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", core.CacheControlOneYear)
		next.ServeHTTP(w, r)
	})
}

func waitForShutdown(server *http.Server, sweeper *preview.Sweeper, hub *notify.Hub, index stores.Index) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to shut down HTTP server")
	}
	select {
	case <-sweeper.Stop().Done():
	case <-ctx.Done():
		logrus.Warn("Orphan sweep still running at shutdown")
	}
	hub.Close()
	if closer, ok := index.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close preview index")
		}
	}
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	store, err := stores.GetObjectStore(context.Background(), cfg.Storage)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up preview storage")
	}
	index, err := stores.GetIndex(cfg.Index)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up preview index")
	}

	origin := "*"
	if len(cfg.AllowedOrigins) == 1 {
		origin = cfg.AllowedOrigins[0]
	}
	hub := notify.NewHub(origin)

	svc := preview.NewService(store, index,
		preview.WithDeletionQueue(index),
		preview.WithNotifier(hub),
		preview.WithKeyPrefix(cfg.Storage.KeyPrefix),
	)

	sweeper := preview.NewSweeper(store, index, cfg.Sweeper.BatchSize)
	if err := sweeper.Start(cfg.Sweeper.Schedule); err != nil {
		logrus.WithError(err).Fatal("Failed to start orphan sweeper")
	}

	server := &http.Server{
		Addr:              *listenAddress,
		Handler:           setupRouter(cfg, svc, store, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(server, sweeper, hub, index)
}
