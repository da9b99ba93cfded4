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
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/api/handlers"
	"github.com/postloom/postloom/internal/api/middleware"
	"github.com/postloom/postloom/internal/dispatcher"
	job "github.com/postloom/postloom/internal/jobs"
	"github.com/postloom/postloom/internal/ledger"
	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/publisher"
	"github.com/postloom/postloom/internal/queue"
	"github.com/postloom/postloom/internal/recurrence"
	"github.com/postloom/postloom/internal/repository"
	"github.com/postloom/postloom/internal/scheduler"
	"github.com/postloom/postloom/internal/service"
	"github.com/postloom/postloom/internal/storage"
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

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
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
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	jobRepo := repository.NewJobRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	attemptRepo := repository.NewPublishAttemptRepository(db)
	assetRepo := repository.NewMediaAssetRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	ledgerService := ledger.NewService(ledgerRepo, cfg.DefaultCreditGrant)
	generationService := service.NewGenerationService(*cfg)
	jobService := service.NewJobService(db, jobRepo, attemptRepo, assetRepo, ledgerService, generationService)

	registry := publisher.NewRegistry()
	registry.Register(models.PlatformFacebook, publisher.NewFacebookPublisher(*cfg))
	registry.Register(models.PlatformInstagram, publisher.NewInstagramPublisher(*cfg))
	registry.Register(models.PlatformLinkedin, publisher.NewLinkedinPublisher(*cfg))
	registry.Register(models.PlatformTiktok, publisher.NewTiktokPublisher(*cfg))
	registry.Register(models.PlatformTwitter, publisher.NewTwitterPublisher(*cfg))
	registry.Register(models.PlatformYoutube, publisher.NewYoutubePublisher(*cfg))

	r2 := storage.NewR2Storage(*cfg)
	planner := recurrence.NewPlanner(jobRepo)
	disp := dispatcher.New(jobRepo, connectionRepo, attemptRepo, assetRepo, registry, r2, planner, cfg.Scheduler.PublishTimeout)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	jobs := handlers.NewJobHandler(jobService, client)
	api.Post("/posts/create", jobs.CreateJob)
	api.Get("/posts", jobs.ListJobs)
	api.Get("/posts/attempts", jobs.ListAttempts)
	api.Post("/posts/remove", jobs.CancelJob)

	credits := handlers.NewLedgerHandler(ledgerService)
	api.Get("/credits/balance", credits.GetBalance)
	api.Get("/credits/check", credits.CheckBalance)
	api.Get("/credits/usage", credits.ListUsage)

	connections := handlers.NewConnectionHandler(connectionRepo)
	api.Get("/accounts", connections.ListConnections)

	// billable collaborators report usage with the shared service key
	internal := app.Group("/internal")
	internal.Use(authMiddleware.ServiceAuth())
	internal.Post("/credits/usage", credits.RecordUsage)
	internal.Post("/credits/reconcile", credits.ReconcileDubbing)

	// ancillary housekeeping on its own, longer schedule
	refreshTokenJob := job.NewTokenRefreshJob(*cfg, connectionRepo)
	c := cron.New()
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.Start()

	loop := scheduler.NewLoop(jobRepo, disp, cfg.Scheduler.PollInterval, cfg.Scheduler.MaxJobFanout)
	go loop.Start(context.Background())

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		worker := queue.NewWorker(jobRepo, disp)
		mux.HandleFunc(queue.TaskTypePublishJob, worker.HandlePublishJobTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db, loop)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB, loop *scheduler.Loop) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	loop.Stop()

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
