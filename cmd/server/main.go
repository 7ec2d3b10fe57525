package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "github.com/dvalenciano/igflow/configs"
	"github.com/dvalenciano/igflow/internal/api/handlers"
	"github.com/dvalenciano/igflow/internal/api/middleware"
	"github.com/dvalenciano/igflow/internal/generator"
	"github.com/dvalenciano/igflow/internal/imagehost"
	job "github.com/dvalenciano/igflow/internal/jobs"
	"github.com/dvalenciano/igflow/internal/meta"
	"github.com/dvalenciano/igflow/internal/repository"
	"github.com/dvalenciano/igflow/internal/scheduler"
	"github.com/dvalenciano/igflow/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := repository.RunMigrations(ctx, db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	postRepo := repository.NewPostRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	metricsRepo := repository.NewMetricsRepository(db)
	apiKeyRepo := repository.NewApiKeyRepository(db)

	classifier := meta.NewClassifier(cfg.TransientErrorCodes, cfg.TransientErrorSubcodes)
	graph := meta.NewGraphClient(cfg.InstagramAccountID, cfg.MetaAccessToken, cfg.GraphAPIVersion, classifier)

	images, err := imagehost.New(cfg)
	if err != nil {
		log.Fatalf("Image hosting is not configured: %v", err)
	}

	gen, err := generator.NewClient(cfg.GeneratorBaseURL)
	if err != nil {
		log.Fatalf("Generation service is not configured: %v", err)
	}

	dedupService := service.NewDedupService(postRepo, cfg.DuplicateTopicWindowDays)
	rateService := service.NewRateLimitService(postRepo, cfg.RateWindowHours, cfg.RatePublishLimit)
	reconcileService := service.NewReconcileService(postRepo, graph, cfg.ReconcilePageLimit)
	metricsService := service.NewMetricsService(postRepo, metricsRepo, graph, reconcileService,
		cfg.AutoSyncIntervalMinutes, cfg.AutoSyncLimit, cfg.ReconcileLookbackHours)
	pipelineService := service.NewPipelineService(postRepo, dedupService, rateService, reconcileService,
		gen, graph, images, classifier, cfg.ReconcileLookbackHours)
	schedulerService := service.NewSchedulerService(queueRepo, cfg.Timezone)
	postService := service.NewPostService(postRepo, metricsRepo, cfg.PostgresURI)
	apiKeyService := service.NewApiKeyService(apiKeyRepo)
	authService := service.NewAuthService(cfg)

	guard := scheduler.NewRunGuard()
	daemon := scheduler.NewDaemon(cfg, queueRepo, guard, pipelineService)
	go daemon.Start(ctx)

	remoteSyncJob := job.NewRemoteSyncJob(metricsService)
	c := cron.New()
	c.AddFunc("@every 00h10m00s", remoteSyncJob.Run)
	c.Start()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Api-Key",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	authMiddleware := middleware.NewAuthMiddleware(cfg, apiKeyService)

	auth := handlers.NewAuthHandler(cfg, authService)
	app.Post("/login", auth.Login)
	app.Post("/logout", auth.Logout)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(postService, pipelineService, rateService, metricsService, guard)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/retryable", post.ListRetryable)
	api.Get("/posts/:id", post.GetPost)
	api.Post("/posts/:id/retry-publish", post.RetryPublish)
	api.Post("/posts/sync-remote", post.SyncRemote)
	api.Get("/rate-limit", post.RateStatus)

	sched := handlers.NewSchedulerHandler(schedulerService, guard)
	api.Get("/scheduler", sched.GetState)
	api.Post("/scheduler/config", sched.SaveConfig)
	api.Post("/scheduler/queue", sched.AddQueueItem)
	api.Delete("/scheduler/queue/:id", sched.RemoveQueueItem)
	api.Post("/scheduler/queue/auto-fill", sched.AutoFill)

	pipeline := handlers.NewPipelineHandler(pipelineService, postService, metricsService, guard)
	api.Post("/run", pipeline.Run)
	api.Get("/status", pipeline.Status)
	api.Get("/db-status", pipeline.DBStatus)

	apiKeys := handlers.NewApiKeyHandler(apiKeyService)
	api.Post("/keys/new", apiKeys.CreateApiKey)
	api.Get("/keys", apiKeys.ListKeys)
	api.Post("/keys/remove", apiKeys.RemoveApiKey)

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server is running on %s", cfg.ListenAddr)

	gracefulShutdown(app, db, cancel)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB, cancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	cancel()
	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
