package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"tradepilot/internal/api"
	"tradepilot/internal/cache"
	"tradepilot/internal/config"
	"tradepilot/internal/exchange"
	"tradepilot/internal/models"
	"tradepilot/internal/queue"
	"tradepilot/internal/repository"
	"tradepilot/internal/service"
	"tradepilot/internal/session"
	"tradepilot/internal/websocket"
	"tradepilot/pkg/utils"
)

func main() {
	// .env удобен в development, в production переменные приходят из окружения
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited with error", utils.Err(err))
	}
}

func run(cfg *config.Config, log *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// База данных: durable история статусов
	db, err := initDatabase(cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Redis: кэш статусов + командный и результирующий стримы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	log.Info("connected to redis", utils.String("addr", cfg.Redis.Addr))

	// Торговая площадка
	venue, err := exchange.NewVenue(cfg.Venue.Mode, cfg.Venue.GatewayURL, cfg.Venue.RequestTimeout)
	if err != nil {
		return fmt.Errorf("venue: %w", err)
	}
	log.Info("venue initialized", utils.Venue(cfg.Venue.Mode))

	creds := initCredentials()

	// Слой публикации статусов: кэш, история, стрим результатов
	sessionRepo := repository.NewSessionRepository(db)
	statusCache := cache.NewStatusCache(rdb, cfg.Redis.StatusTTL)
	resultProducer := queue.NewResultProducer(rdb, cfg.Redis.ResultStream, log)
	publisher := session.NewPublisher(statusCache, sessionRepo, resultProducer, log)

	// Жизненный цикл сессий
	store := session.NewStore()
	runner := session.NewRunner(store, publisher, cfg.Monitor, log)
	orchestrator := session.NewOrchestrator(store, runner, publisher, venue, drivenStrategy, log)

	// Командный канал
	producer := queue.NewProducer(rdb, cfg.Redis.CommandStream, log)
	consumer := queue.NewConsumer(rdb, cfg.Redis.CommandStream, cfg.Redis.ConsumerGroup, cfg.Redis.ConsumerName, orchestrator, log)

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(ctx)
	}()

	// WebSocket hub
	hub := websocket.NewHub(store, log)
	go hub.Run()

	// HTTP API
	sessionService := service.NewSessionService(store, statusCache, sessionRepo, producer, creds, log)
	router := api.SetupRoutes(&api.Dependencies{
		SessionService: sessionService,
		Hub:            hub,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		log.Info("starting server", utils.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			serverDone <- server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			serverDone <- server.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverDone:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Порядок остановки: сначала перестаем принимать запросы и
	// команды, затем останавливаем мониторинг. Состояния сессий не
	// трогаем: активная сессия упавшего процесса требует явного
	// пересоздания, канал не перезапускает ее молча.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", utils.Err(err))
	}

	stop()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn("consumer did not stop in time")
	}

	runner.Shutdown()
	hub.Stop()

	log.Info("server exited")
	return nil
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// initCredentials собирает in-memory хранилище credential refs из
// CREDENTIAL_REFS (через запятую). Production подключает внешний vault.
func initCredentials() *exchange.MemoryCredentialStore {
	var refs []string
	for _, ref := range strings.Split(os.Getenv("CREDENTIAL_REFS"), ",") {
		ref = strings.TrimSpace(ref)
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return exchange.NewMemoryCredentialStore(refs...)
}

// drivenStrategy выбирает стратегию автономного управления.
// Симуляционный профиль: случайные решения, зерно от времени запуска.
func drivenStrategy(cfg models.SessionConfig) session.Strategy {
	return session.NewRandomStrategy(time.Now().UnixNano())
}
