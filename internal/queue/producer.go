package queue

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"tradepilot/internal/models"
	"tradepilot/pkg/utils"
)

var errMalformedMessage = errors.New("malformed stream message")

// Producer кладет команды в командный стрим.
// Stream append-only: порядок команд одной сессии сохраняется.
type Producer struct {
	rdb    *redis.Client
	stream string
	log    *utils.Logger

	// MaxLen - приблизительный предел длины стрима
	MaxLen int64
}

// NewProducer создает продюсера командного канала
func NewProducer(rdb *redis.Client, stream string, log *utils.Logger) *Producer {
	return &Producer{
		rdb:    rdb,
		stream: stream,
		log:    log.WithComponent("command_producer"),
		MaxLen: 100000,
	}
}

// Enqueue кладет команду в стрим, присваивая id при отсутствии.
// Возвращает id команды.
func (p *Producer) Enqueue(ctx context.Context, cmd Command) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.EnqueuedAt.IsZero() {
		cmd.EnqueuedAt = time.Now().UTC()
	}

	values, err := cmd.encode()
	if err != nil {
		return "", err
	}

	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.MaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		CommandsEnqueued.WithLabelValues(cmd.Type, "error").Inc()
		return "", err
	}

	CommandsEnqueued.WithLabelValues(cmd.Type, "ok").Inc()
	p.log.Debug("command enqueued",
		utils.String("command_id", cmd.ID),
		utils.String("type", cmd.Type),
		utils.SessionID(cmd.SessionID))
	return cmd.ID, nil
}

// EnqueueStart кладет команду запуска сессии
func (p *Producer) EnqueueStart(ctx context.Context, cfg models.SessionConfig) (string, error) {
	// credential ref переносится в отдельное поле команды
	public := cfg
	public.CredentialRef = ""
	return p.Enqueue(ctx, Command{
		Type:          CommandStartSession,
		SessionID:     cfg.SessionID,
		Config:        &public,
		CredentialRef: cfg.CredentialRef,
	})
}

// EnqueueStop кладет команду остановки сессии
func (p *Producer) EnqueueStop(ctx context.Context, sessionID string, force bool) (string, error) {
	return p.Enqueue(ctx, Command{
		Type:      CommandStopSession,
		SessionID: sessionID,
		Force:     force,
	})
}

// EnqueuePositionChange кладет команду ручного изменения позиции
func (p *Producer) EnqueuePositionChange(ctx context.Context, sessionID string, change PositionChange) (string, error) {
	return p.Enqueue(ctx, Command{
		Type:      CommandUpdatePosition,
		SessionID: sessionID,
		Position:  &change,
	})
}
