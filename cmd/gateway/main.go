package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	v1 "cadbridge/internal/controller/http/v1"
	"cadbridge/internal/controller/ws"
	"cadbridge/internal/domain/entity"
	"cadbridge/internal/domain/usecase"
	psqlRepo "cadbridge/internal/repository/psql"
	"cadbridge/internal/repository/rabbitmq"
	redisRepo "cadbridge/internal/repository/redis"
	s3Repo "cadbridge/internal/repository/s3"
	"cadbridge/pkg/client/psql"
	redisGo "cadbridge/pkg/client/redis"
	s3ClientGo "cadbridge/pkg/client/s3"
	"cadbridge/pkg/logger"
	"cadbridge/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Config struct {
	ListenAddr string

	RedisAddr string
	RedisDB   int

	PSQLHost     string
	PSQLPort     int
	PSQLUser     string
	PSQLPassword string
	PSQLDBName   string
	PSQLSSLMode  string

	S3Host      string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	RabbitMQURL string

	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	StallCeiling   time.Duration
}

func main() {
	cfg := loadConfig()
	lg := logger.New("gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := redisGo.NewRedisClient(ctx, redisGo.Config{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err != nil {
		lg.WithError(err).Fatal("redis init failed")
	}

	db, err := psql.NewPostgresDB(psql.Config{
		Host:     cfg.PSQLHost,
		User:     cfg.PSQLUser,
		Password: cfg.PSQLPassword,
		DBName:   cfg.PSQLDBName,
		Port:     cfg.PSQLPort,
		SslMode:  cfg.PSQLSSLMode,
	})
	if err != nil {
		lg.WithError(err).Fatal("postgres init failed")
	}

	if err := db.AutoMigrate(&entity.TranslationJob{}); err != nil {
		lg.WithError(err).Fatal("migration failed")
	}

	jobRepo := psqlRepo.NewGormJobRepo(db)

	s3Client, err := s3ClientGo.NewS3Client(cfg.S3Host, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket)
	if err != nil {
		lg.WithError(err).Fatal("s3 init failed")
	}
	modelStore := s3Repo.NewModelStore(s3Client)

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		lg.WithError(err).Fatal("rabbitmq connect failed")
	}
	defer conn.Close()

	publisher, err := rabbitmq.NewPublisher(conn, "translations.exchange", "translations.requested")
	if err != nil {
		lg.WithError(err).Fatal("publisher init failed")
	}

	cache := redisRepo.NewStatusCache(redisClient)
	notifier := redisRepo.NewNotifier(redisClient)

	retry := usecase.RetryPolicy{BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay}
	rec := usecase.NewReconciler(jobRepo, notifier, cache, retry, cfg.StallCeiling, lg)
	jobs := usecase.NewJobUseCase(jobRepo, modelStore, publisher, cache, rec, cfg.MaxRetries, lg)

	hub := ws.NewHub(lg)
	go hub.Pump(ctx, notifier.SubscribeJobEvents(ctx, lg))

	jobHandler := v1.NewJobHandler(jobs)
	webhookHandler := v1.NewWebhookHandler(rec, lg)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(lg))

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RedisClient: redisClient,
		Limit:       10,
		Window:      time.Second,
		KeyPrefix:   "rl:",
	})

	api := r.Group("/api/v1")
	{
		// the translation service calls this back; it authenticates per
		// delivery, not per user session
		api.POST("/webhooks/translation", webhookHandler.Receive)

		authed := api.Group("")
		authed.Use(middleware.BearerAuthMiddleware(), rl)
		{
			authed.POST("/jobs", jobHandler.CreateJob)
			authed.GET("/jobs/:job_id", jobHandler.GetJob)
			authed.POST("/jobs/:job_id/cancel", jobHandler.CancelJob)
			authed.GET("/jobs/events", hub.Handler())
		}
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.WithError(err).Fatal("http server failed")
		}
	}()
	lg.WithField("addr", cfg.ListenAddr).Info("gateway started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	lg.Info("shutting down gateway")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func loadConfig() Config {
	if err := godotenv.Load("./.env.local"); err != nil {
		log.Println("No .env file found. Falling back to OS environment variables.")
	}
	mustGetEnv := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			log.Fatalf("Environment variable %s is not set", key)
		}
		return val
	}

	// REDIS
	redisHost := mustGetEnv("REDIS_HOST")
	redisPort := mustGetEnv("REDIS_PORT")
	redisDB := intEnv("REDIS_DB", 0)

	// PSQL
	psqlPortStr := mustGetEnv("PSQL_PORT")
	psqlPort, err := strconv.Atoi(psqlPortStr)
	if err != nil {
		log.Fatalf("Invalid PSQL_PORT value: %v", err)
	}

	// RABBITMQ
	rmqUser := mustGetEnv("RABBITMQ_USER")
	rmqPassword := mustGetEnv("RABBITMQ_PASSWORD")
	rmqHost := mustGetEnv("RABBITMQ_HOST")
	rmqPort := mustGetEnv("RABBITMQ_PORT")
	rabbitMQURL := "amqp://" + rmqUser + ":" + rmqPassword + "@" + rmqHost + ":" + rmqPort + "/"

	return Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		RedisAddr: redisHost + ":" + redisPort,
		RedisDB:   redisDB,

		PSQLHost:     mustGetEnv("PSQL_HOST"),
		PSQLPort:     psqlPort,
		PSQLUser:     mustGetEnv("PSQL_USER"),
		PSQLPassword: mustGetEnv("PSQL_PASSWORD"),
		PSQLDBName:   mustGetEnv("PSQL_DB"),
		PSQLSSLMode:  mustGetEnv("PSQL_SSLMODE"),

		S3Host:      mustGetEnv("S3_HOST") + ":" + mustGetEnv("S3_PORT"),
		S3Bucket:    mustGetEnv("S3_BUCKET"),
		S3AccessKey: mustGetEnv("S3_ACCESS_KEY"),
		S3SecretKey: mustGetEnv("S3_SECRET_KEY"),

		RabbitMQURL: rabbitMQURL,

		MaxRetries:     intEnv("MAX_RETRIES", 3),
		RetryBaseDelay: time.Duration(intEnv("RETRY_BASE_DELAY_MS", 500)) * time.Millisecond,
		RetryMaxDelay:  time.Duration(intEnv("RETRY_MAX_DELAY_MS", 60000)) * time.Millisecond,
		StallCeiling:   time.Duration(intEnv("STALL_CEILING_SECONDS", 600)) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("Invalid %s value: %v", key, err)
	}
	return n
}
