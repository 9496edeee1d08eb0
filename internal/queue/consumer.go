package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"tradepilot/pkg/utils"
)

// Handler обрабатывает команду. Доставка at-least-once:
// обработчик обязан быть идемпотентным.
type Handler interface {
	HandleCommand(ctx context.Context, cmd Command) error
}

// Consumer читает командный стрим через consumer group.
// Группа шардирует команды между процессами; сообщение остается
// pending до подтверждения, при рестарте pending дочитываются первыми.
type Consumer struct {
	rdb     *redis.Client
	stream  string
	group   string
	name    string
	handler Handler
	log     *utils.Logger

	// BlockTimeout - длительность блокирующего чтения
	BlockTimeout time.Duration

	// BatchSize - максимум сообщений за одно чтение
	BatchSize int64

	// PendingInterval - период повторного дочитывания pending:
	// команда, упавшая на транзиентной ошибке, повторяется
	// без рестарта процесса
	PendingInterval time.Duration
}

// NewConsumer создает консьюмера командного канала
func NewConsumer(rdb *redis.Client, stream, group, name string, handler Handler, log *utils.Logger) *Consumer {
	return &Consumer{
		rdb:          rdb,
		stream:       stream,
		group:        group,
		name:         name,
		handler:      handler,
		log:             log.WithComponent("command_consumer"),
		BlockTimeout:    5 * time.Second,
		BatchSize:       16,
		PendingInterval: 30 * time.Second,
	}
}

// Run читает и обрабатывает команды до отмены контекста
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	// сначала дочитываются pending этого консьюмера с прошлого запуска
	if err := c.drain(ctx, "0"); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("pending drain failed", utils.Err(err))
	}

	nextPending := time.Now().Add(c.PendingInterval)
	for {
		if err := c.drain(ctx, ">"); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			c.log.Error("stream read failed", utils.Err(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}

		// периодический повтор pending: без него команда с упавшим
		// обработчиком висела бы до рестарта процесса
		if c.PendingInterval > 0 && time.Now().After(nextPending) {
			if err := c.drain(ctx, "0"); err != nil && !errors.Is(err, context.Canceled) {
				c.log.Warn("pending redrain failed", utils.Err(err))
			}
			nextPending = time.Now().Add(c.PendingInterval)
		}
	}
}

// ensureGroup создает consumer group, существующая группа не ошибка
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// drain выполняет одно блокирующее чтение и обработку пачки
func (c *Consumer) drain(ctx context.Context, id string) error {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, id},
		Count:    c.BatchSize,
		Block:    c.BlockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	for _, stream := range res {
		for _, msg := range stream.Messages {
			c.process(ctx, msg)
		}
	}
	return nil
}

// process обрабатывает одно сообщение стрима.
// Ack уходит только после успешной обработки; битые сообщения
// подтверждаются сразу - повтор им не поможет.
func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	cmd, err := decodeCommand(msg.Values)
	if err != nil {
		CommandsProcessed.WithLabelValues("unknown", "malformed").Inc()
		c.log.Error("malformed command dropped",
			utils.String("stream_id", msg.ID), utils.Err(err))
		c.ack(ctx, msg.ID)
		return
	}

	if err := c.handler.HandleCommand(ctx, cmd); err != nil {
		CommandsProcessed.WithLabelValues(cmd.Type, "error").Inc()
		c.log.Error("command handling failed, left pending",
			utils.String("command_id", cmd.ID),
			utils.String("type", cmd.Type),
			utils.SessionID(cmd.SessionID),
			utils.Err(err))
		return
	}

	CommandsProcessed.WithLabelValues(cmd.Type, "ok").Inc()
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.log.Warn("ack failed", utils.String("stream_id", id), utils.Err(err))
	}
}
