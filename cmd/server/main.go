package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/aimovie/api/internal/client"
	"github.com/aimovie/api/internal/concurrency"
	"github.com/aimovie/api/internal/config"
	"github.com/aimovie/api/internal/handler"
	"github.com/aimovie/api/internal/middleware"
	"github.com/aimovie/api/internal/pipeline"
	"github.com/aimovie/api/internal/service"
	"github.com/aimovie/api/internal/store"
	"github.com/aimovie/api/internal/telemetry"
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

	// Test Redis connection; without it the process falls back to the
	// in-memory store and in-process dispatch.
	ctx := context.Background()
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available, using in-memory job store: %v", err)
		redisAvailable = false
		redisClient = nil
	}

	// Initialize validator
	validate := validator.New()

	// System telemetry + concurrency controller
	probe := telemetry.NewSystemProbe()
	control := concurrency.NewController(concurrency.Settings{
		MaxParallelWorkers: cfg.Concurrency.MaxParallelWorkers,
		ConcurrentScenes:   cfg.Concurrency.ConcurrentScenes,
		EnableParallel:     cfg.Concurrency.EnableParallel,
		AutoAdjustWorkers:  cfg.Concurrency.AutoAdjustWorkers,
	}, probe)

	// Generation client (mock fallback when DashScope is not configured)
	var genClient client.GenerationClient
	dashscopeClient := client.NewDashScopeClient(&cfg.DashScope)
	if dashscopeClient.IsConfigured() {
		genClient = dashscopeClient
	} else {
		log.Println("Info: DashScope not configured, using mock generation client")
		genClient = client.NewMockClient(2 * time.Second)
	}

	// Object storage client (optional - continues if not configured)
	var storageClient client.StorageClient
	if cfg.OSS.AccessKeyID != "" && cfg.OSS.SecretAccessKey != "" {
		ossClient, err := client.NewOSSClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: OSS client not initialized: %v", err)
		} else {
			storageClient = ossClient
		}
	} else {
		log.Println("Info: OSS storage not configured, final videos stay local")
	}

	// Job store
	var jobStore store.JobStore
	if redisAvailable {
		jobStore = store.NewRedisStore(redisClient)
	} else {
		jobStore = store.NewMemoryStore()
	}

	// Pipeline orchestrator
	workRoot := cfg.Pipeline.WorkDir
	if workRoot == "" {
		workRoot = filepath.Join(os.TempDir(), "ai-movie")
	}
	orch := pipeline.NewOrchestrator(jobStore, genClient, storageClient, control, pipeline.DefaultRetryPolicy(), pipeline.Options{
		StageTimeout: time.Duration(cfg.Pipeline.StageTimeout) * time.Second,
		BGMPath:      cfg.Pipeline.BGMPath,
	})

	// Dispatcher: asynq when redis is up, in-process goroutine otherwise
	var dispatcher service.Dispatcher
	var asynqClient *asynq.Client
	if redisAvailable {
		asynqClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
		dispatcher = service.NewAsynqDispatcher(asynqClient)
	} else {
		dispatcher = service.NewGoDispatcher(orch)
	}

	// Initialize services
	videoService := service.NewVideoService(jobStore, dispatcher, orch, workRoot)

	// Initialize handlers
	uploadDir := filepath.Join(workRoot, "uploads")
	videoHandler := handler.NewVideoHandler(videoService, validate, uploadDir)
	concurrencyHandler := handler.NewConcurrencyHandler(control, probe)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    20 * 1024 * 1024, // 20MB
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
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
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
				"dashscope": genClient.IsConfigured(),
				"oss":       storageClient != nil,
				"redis":     redisAvailable,
			},
		})
	})

	// API routes
	api := app.Group("/api")
	api.Post("/generate-video", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), videoHandler.Generate)
	api.Get("/video-status/:video_id", videoHandler.Status)
	api.Post("/cancel-video/:video_id", videoHandler.Cancel)

	// Concurrency config routes
	cfgGroup := app.Group("/config")
	cfgGroup.Get("/concurrent-workers", concurrencyHandler.Get)
	cfgGroup.Post("/concurrent-workers", concurrencyHandler.Set)

	// Start Asynq worker server when redis backs the queue
	if redisAvailable {
		go startWorkerServer(cfg, orch)
	}

	// Graceful shutdown
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

func startWorkerServer(cfg *config.Config, orch *pipeline.Orchestrator) {
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
			// Jobs in flight at once; scene parallelism inside a job is
			// governed separately by the concurrency controller.
			Concurrency: 4,
			Queues: map[string]int{
				service.QueueVideo: 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGenerate, service.NewGenerateTaskHandler(orch))

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
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
