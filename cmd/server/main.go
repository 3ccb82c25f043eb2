package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/vidvault/api/internal/config"
	"github.com/vidvault/api/internal/diff"
	"github.com/vidvault/api/internal/handler"
	"github.com/vidvault/api/internal/media"
	"github.com/vidvault/api/internal/middleware"
	"github.com/vidvault/api/internal/model"
	"github.com/vidvault/api/internal/reconstitute"
	"github.com/vidvault/api/internal/registry"
	"github.com/vidvault/api/internal/service"
	"github.com/vidvault/api/internal/storage"
	"github.com/vidvault/api/internal/worker"
	ws "github.com/vidvault/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize storage and the in-process registries
	store, err := storage.NewStore(cfg.Storage.Root)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	jobs := registry.NewJobs()
	downloads := registry.NewDownloads()

	// Late subscribers get the job's current state right away.
	hub.Snapshot = func(itemID string) (model.WSProgressMessage, bool) {
		p, ok := jobs.Get(itemID)
		if !ok {
			return model.WSProgressMessage{}, false
		}
		return model.WSProgressMessage{
			Type:     model.WSMessageTypeProgress,
			JobID:    itemID,
			Phase:    p.Phase,
			Progress: p.Progress,
			Message:  p.Message,
		}, true
	}

	// Media engine shared by the HTTP-facing merge path
	runner := media.NewRunner()
	engine := media.NewEngine(cfg.Media.FFmpegPath, cfg.Media.FFprobePath, runner)
	merger := reconstitute.NewMerger(engine, diff.NewEngine(engine))

	// Initialize services
	settingsService := service.NewSettingsService(cfg.Storage.SettingsPath)
	storeService := service.NewStoreService(store, jobs, asynqClient)
	streamService := service.NewStreamService(store, merger)
	downloadService := service.NewDownloadService(downloads, runner, cfg.T2V.ModelID, cfg.T2V.ModelPath)

	// Initialize handlers
	storeHandler := handler.NewStoreHandler(storeService, cfg.Storage.MaxUploadMB)
	streamHandler := handler.NewStreamHandler(streamService, validate)
	settingsHandler := handler.NewSettingsHandler(settingsService)
	downloadHandler := handler.NewDownloadHandler(downloadService)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Storage.MaxUploadMB * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,Range",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"ffmpeg":  media.Available(firstNonEmpty(cfg.Media.FFmpegPath, "ffmpeg")),
				"ffprobe": media.Available(firstNonEmpty(cfg.Media.FFprobePath, "ffprobe")),
				"whisper": media.Available(cfg.Script.Binary),
				"redis":   redisClient.Ping(c.Context()).Err() == nil,
				"auth":    authMiddleware.Enabled(),
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Store routes
	api.Post("/store", rateLimiter.StoreLimit(cfg.RateLimit.StorePerHour), storeHandler.Store)
	api.Get("/stored", storeHandler.List)
	api.Get("/stored/:id/status", storeHandler.Status)
	api.Post("/stored/:id/retry", rateLimiter.RetryLimit(cfg.RateLimit.RetryPerHour), storeHandler.Retry)

	// Reconstitute and stream metadata routes
	api.Post("/reconstitute", streamHandler.Reconstitute)
	api.Get("/stream/:id/info", streamHandler.Info)

	// Settings routes
	api.Get("/settings", settingsHandler.Get)
	api.Put("/settings", settingsHandler.Update)

	// Model download routes
	api.Post("/t2v/download", downloadHandler.Start)
	api.Get("/t2v/download/status", downloadHandler.Status)

	// Streaming stays outside /api so media players need no auth header
	app.Get("/stream/:id", streamHandler.Stream)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, store, jobs, hub, settingsService, runner)

	// Graceful shutdown: stop accepting requests; a timeout-bounded
	// subprocess may still be draining and is left to its own deadline.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	store *storage.Store,
	jobs *registry.Jobs,
	hub *ws.Hub,
	settings *service.SettingsService,
	runner media.Runner,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			// Pipeline runs are ffmpeg-bound; keep concurrency low.
			Concurrency: 2,
			Queues: map[string]int{
				"store": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	storeWorker := worker.NewStoreWorker(store, jobs, hub, cfg, settings, worker.DefaultBuilder(runner))

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeStore, storeWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
