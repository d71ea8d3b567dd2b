package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cadbridge/internal/domain/usecase"
	"cadbridge/internal/repository/derivative"
	psqlRepo "cadbridge/internal/repository/psql"
	"cadbridge/internal/repository/rabbitmq"
	redisRepo "cadbridge/internal/repository/redis"
	s3Repo "cadbridge/internal/repository/s3"
	"cadbridge/pkg/client/psql"
	redisGo "cadbridge/pkg/client/redis"
	s3ClientGo "cadbridge/pkg/client/s3"
	"cadbridge/pkg/logger"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Config struct {
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

	DerivativeAPIURL   string
	DerivativeAPIToken string

	SubmitTimeout  time.Duration
	PollInterval   time.Duration
	RetryTick      time.Duration
	SweepInterval  time.Duration
	StallCeiling   time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	BatchSize      int
}

func main() {
	cfg := loadConfig()
	lg := logger.New("reconciler")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

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

	client := derivative.NewClient(cfg.DerivativeAPIURL, cfg.DerivativeAPIToken, cfg.SubmitTimeout)

	cache := redisRepo.NewStatusCache(redisClient)
	notifier := redisRepo.NewNotifier(redisClient)

	retry := usecase.RetryPolicy{BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay}
	rec := usecase.NewReconciler(jobRepo, notifier, cache, retry, cfg.StallCeiling, lg)
	submitter := usecase.NewSubmitter(jobRepo, client, rec, modelStore, cfg.SubmitTimeout, cfg.PollInterval, lg)

	consumer, err := rabbitmq.NewSubmissionConsumer(conn, "translations.exchange", "translations.requested", "translations.requested.q", submitter, lg)
	if err != nil {
		lg.WithError(err).Fatal("consumer init failed")
	}

	go func() {
		if err := consumer.Start(ctx); err != nil {
			lg.WithError(err).Fatal("consumer stopped with error")
		}
	}()

	sched := usecase.NewScheduler(jobRepo, client, rec, submitter, cfg.PollInterval, cfg.RetryTick, cfg.SweepInterval, cfg.BatchSize, lg)
	go sched.Run(ctx)

	lg.Info("reconciler service started")
	<-sigCh
	lg.Info("shutting down reconciler service")
	cancel()
	time.Sleep(time.Second)
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

		DerivativeAPIURL:   mustGetEnv("DERIVATIVE_API_URL"),
		DerivativeAPIToken: mustGetEnv("DERIVATIVE_API_TOKEN"),

		SubmitTimeout:  time.Duration(intEnv("SUBMIT_TIMEOUT_SECONDS", 30)) * time.Second,
		PollInterval:   time.Duration(intEnv("POLL_INTERVAL_SECONDS", 15)) * time.Second,
		RetryTick:      time.Duration(intEnv("RETRY_TICK_SECONDS", 5)) * time.Second,
		SweepInterval:  time.Duration(intEnv("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		StallCeiling:   time.Duration(intEnv("STALL_CEILING_SECONDS", 600)) * time.Second,
		RetryBaseDelay: time.Duration(intEnv("RETRY_BASE_DELAY_MS", 500)) * time.Millisecond,
		RetryMaxDelay:  time.Duration(intEnv("RETRY_MAX_DELAY_MS", 60000)) * time.Millisecond,
		BatchSize:      intEnv("BATCH_SIZE", 50),
	}
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
