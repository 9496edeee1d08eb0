//go:build integration

// Package integration содержит интеграционные тесты полного цикла:
// HTTP запрос, командный канал, мониторинг, публикация, WebSocket.
//
// Командный канал в тестах заменен loopback-продюсером, который
// применяет команду синхронно. Торговая площадка работает в sim
// режиме, поэтому внешние сервисы не нужны. Тесты с базой данных
// пропускаются если Postgres недоступен.
//
// Запуск: go test -tags=integration ./tests/integration/...
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"tradepilot/internal/api"
	"tradepilot/internal/config"
	"tradepilot/internal/exchange"
	"tradepilot/internal/models"
	"tradepilot/internal/queue"
	"tradepilot/internal/service"
	"tradepilot/internal/session"
	"tradepilot/internal/websocket"
	"tradepilot/pkg/utils"
)

// loopbackProducer применяет команды синхронно, минуя Redis.
// Семантика та же: handler идемпотентен, доставка at-least-once.
type loopbackProducer struct {
	orchestrator *session.Orchestrator
}

func (p *loopbackProducer) EnqueueStart(ctx context.Context, cfg models.SessionConfig) (string, error) {
	return "loopback", p.orchestrator.HandleCommand(ctx, queue.Command{
		ID:            "loopback",
		Type:          queue.CommandStartSession,
		SessionID:     cfg.SessionID,
		Config:        publicConfig(cfg),
		CredentialRef: cfg.CredentialRef,
	})
}

func (p *loopbackProducer) EnqueueStop(ctx context.Context, sessionID string, force bool) (string, error) {
	return "loopback", p.orchestrator.HandleCommand(ctx, queue.Command{
		ID:        "loopback",
		Type:      queue.CommandStopSession,
		SessionID: sessionID,
		Force:     force,
	})
}

func (p *loopbackProducer) EnqueuePositionChange(ctx context.Context, sessionID string, change queue.PositionChange) (string, error) {
	return "loopback", p.orchestrator.HandleCommand(ctx, queue.Command{
		ID:        "loopback",
		Type:      queue.CommandUpdatePosition,
		SessionID: sessionID,
		Position:  &change,
	})
}

func publicConfig(cfg models.SessionConfig) *models.SessionConfig {
	public := cfg
	public.CredentialRef = ""
	return &public
}

// TestStack собирает все компоненты процесса без внешних сервисов
type TestStack struct {
	Store  *session.Store
	Runner *session.Runner
	Venue  *exchange.SimVenue
	Hub    *websocket.Hub
	Server *httptest.Server
	Router *mux.Router
}

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "fatal"})
}

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		TickInterval:      20 * time.Millisecond,
		CallTimeout:       time.Second,
		GracePeriod:       time.Hour,
		CloseRetries:      1,
		CloseRetryBackoff: time.Millisecond,
	}
}

// SetupTestStack поднимает полный стек с sim venue и loopback каналом
func SetupTestStack(t *testing.T) *TestStack {
	t.Helper()
	log := testLogger()

	venue := exchange.NewSimVenue(1)
	store := session.NewStore()
	publisher := session.NewPublisher(nil, nil, nil, log)
	runner := session.NewRunner(store, publisher, testMonitorConfig(), log)
	orchestrator := session.NewOrchestrator(store, runner, publisher, venue, nil, log)

	hub := websocket.NewHub(store, log)
	go hub.Run()
	t.Cleanup(hub.Stop)
	t.Cleanup(runner.Shutdown)

	creds := exchange.NewMemoryCredentialStore("vault://integration")
	svc := service.NewSessionService(store, nil, nil, &loopbackProducer{orchestrator: orchestrator}, creds, log)

	router := api.SetupRoutes(&api.Dependencies{
		SessionService: svc,
		Hub:            hub,
		Logger:         log,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestStack{
		Store:  store,
		Runner: runner,
		Venue:  venue,
		Hub:    hub,
		Server: server,
		Router: router,
	}
}

// SetupTestDB открывает тестовую базу или пропускает тест
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "postgres"),
		getEnv("TEST_DB_PASSWORD", "postgres"),
		getEnv("TEST_DB_NAME", "tradepilot_test"),
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil
	}
	t.Cleanup(func() { db.Close() })

	if err := initSessionsTable(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
		return nil
	}
	return db
}

func initSessionsTable(db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		state VARCHAR(20) NOT NULL,
		pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
		open_positions INT NOT NULL DEFAULT 0,
		cycle BIGINT NOT NULL DEFAULT 0,
		error_text TEXT NOT NULL DEFAULT '',
		max_budget DECIMAL(20, 8) NOT NULL,
		profit_goal DECIMAL(20, 8) NOT NULL,
		max_positions INT NOT NULL,
		loss_threshold_percent DECIMAL(5, 4) NOT NULL,
		account_mode VARCHAR(20) NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		last_update TIMESTAMP NOT NULL DEFAULT NOW()
	)`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	if _, err := db.Exec("TRUNCATE TABLE sessions"); err != nil {
		return fmt.Errorf("failed to truncate sessions table: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// waitFor опрашивает условие до дедлайна
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
