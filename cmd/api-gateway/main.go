package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rinkside/rinkside/cmd/api-gateway/middleware"
	"github.com/rinkside/rinkside/cmd/api-gateway/routes"
	"github.com/rinkside/rinkside/internal/auth"
	"github.com/rinkside/rinkside/internal/catalog"
	"github.com/rinkside/rinkside/internal/common"
	"github.com/rinkside/rinkside/internal/events"
	"github.com/rinkside/rinkside/internal/storage"
	"github.com/rinkside/rinkside/internal/upload"
	"github.com/rinkside/rinkside/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// application holds the long-lived services the router is built from
type application struct {
	cfg         *config.Config
	started     time.Time
	blobs       storage.BlobStorage
	sessions    upload.SessionStore
	coordinator *upload.Coordinator
	reaper      *upload.Reaper
	authService *auth.Service
	catalog     *catalog.Service
	checkers    map[string]routes.HealthChecker
	closers     []func() error
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, continuing with environment variables")
	}

	// Load configuration
	cfg := config.LoadFromEnv()

	// Setup logging
	cfg.Logging.SetupLogging()

	log.Info().Msg("Starting Rinkside upload gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer app.close()

	app.reaper.Start(ctx)
	defer app.reaper.Stop()

	// Setup HTTP server
	router := setupRouter(app)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}
}

// newApplication wires storage, the session backend and the completion hooks
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{
		cfg:         cfg,
		started:     time.Now(),
		authService: auth.NewService(&cfg.Auth),
		checkers:    make(map[string]routes.HealthChecker),
	}

	// Initialize storage
	blobs, err := storage.NewStorageFactory(&cfg.Storage).CreateStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.blobs = blobs

	// Initialize session backend
	switch cfg.Upload.SessionBackend {
	case "memory", "":
		app.sessions = upload.NewMemoryStore()
	case "redis":
		cache, err := common.NewCache(&cfg.Redis)
		if err != nil {
			app.close()
			return nil, err
		}
		app.closers = append(app.closers, cache.Close)
		app.checkers["redis"] = cache
		app.sessions = upload.NewRedisStore(cache.Client(), "")
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", cfg.Upload.SessionBackend)
	}

	app.coordinator = upload.NewCoordinator(app.sessions, blobs, upload.Options{
		MaxFileSize:     cfg.Upload.MaxFileSize,
		DefaultMimeType: cfg.Upload.DefaultMimeType,
		KeyPrefix:       cfg.Upload.KeyPrefix,
	})
	app.reaper = upload.NewReaper(app.sessions, cfg.Upload.SessionTTL, cfg.Upload.ReaperInterval)

	// Initialize database
	if cfg.Database.Enabled {
		db, err := common.NewDatabase(&cfg.Database)
		if err != nil {
			app.close()
			return nil, err
		}
		app.closers = append(app.closers, db.Close)

		// Run migrations
		if err := db.Migrate(); err != nil {
			app.close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		app.checkers["database"] = db
		app.catalog = catalog.NewService(db.DB)
		app.coordinator.AddHook(app.catalog)
	}

	// Initialize event publisher
	if cfg.Events.Enabled {
		publisher, err := events.NewPublisher(&cfg.Events)
		if err != nil {
			app.close()
			return nil, err
		}
		app.closers = append(app.closers, publisher.Close)
		app.coordinator.AddHook(publisher)
	}

	log.Info().
		Str("storage", cfg.Storage.Type).
		Str("sessions", cfg.Upload.SessionBackend).
		Bool("catalog", cfg.Database.Enabled).
		Bool("events", cfg.Events.Enabled).
		Msg("Services initialized")

	return app, nil
}

func (app *application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	app.closers = nil
}

func setupRouter(app *application) *gin.Engine {
	// Set Gin mode based on environment
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.RequestLogger())
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(app.cfg.Server.AllowOrigins)))

	// Health check
	routes.HealthRoutes(router, app.sessions, app.started, app.checkers)

	if strings.HasPrefix(app.cfg.Storage.PublicURL, "/") {
		routes.MediaRoutes(router, app.cfg.Storage.PublicURL, app.blobs)
	}

	var authHandlers []gin.HandlerFunc
	if app.cfg.Auth.Enabled {
		authHandlers = append(authHandlers, middleware.AuthMiddleware(app.authService, app.cfg.Auth.CookieName))
	} else {
		authHandlers = append(authHandlers, middleware.OptionalAuthMiddleware(app.authService, app.cfg.Auth.CookieName))
	}

	// API routes
	api := router.Group("/api")
	routes.UploadRoutes(api, app.coordinator, routes.UploadLimits{
		MaxChunkSize: app.cfg.Upload.MaxChunkSize,
		MaxFileSize:  app.cfg.Upload.MaxFileSize,
	}, authHandlers...)

	if app.catalog != nil {
		routes.VideoRoutes(api, app.catalog, app.blobs, authHandlers...)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Content-Length", "Authorization", "Accept"}
	cfg.MaxAge = 12 * time.Hour

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
