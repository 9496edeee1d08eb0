package queue

import (
	"context"

	"github.com/go-redis/redis/v8"

	"tradepilot/internal/models"
	"tradepilot/pkg/utils"
)

// ResultProducer пишет статусы сессий в result stream для внешних
// консьюмеров (аналитика, нотификации). Best-effort канал:
// вызывающая сторона логирует ошибку и продолжает.
type ResultProducer struct {
	rdb    *redis.Client
	stream string
	log    *utils.Logger

	// MaxLen - приблизительный предел длины стрима
	MaxLen int64
}

// NewResultProducer создает продюсера канала результатов
func NewResultProducer(rdb *redis.Client, stream string, log *utils.Logger) *ResultProducer {
	return &ResultProducer{
		rdb:    rdb,
		stream: stream,
		log:    log.WithComponent("result_producer"),
		MaxLen: 10000,
	}
}

// PublishStatus кладет представление сессии в result stream
func (p *ResultProducer) PublishStatus(ctx context.Context, view models.SessionView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}

	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":    "status",
			"payload": string(data),
			"state":   view.State,
		},
	}).Err()
}

// PublishEvent кладет событие жизненного цикла в result stream
func (p *ResultProducer) PublishEvent(ctx context.Context, event models.SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":    "event",
			"payload": string(data),
			"type":    event.Type,
		},
	}).Err()
}
