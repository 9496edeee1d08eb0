package session

import (
	"context"
	"time"

	"tradepilot/internal/models"
	"tradepilot/pkg/utils"
)

// StatusCache - быстрый read path статусов (Redis)
type StatusCache interface {
	SetStatus(ctx context.Context, view models.SessionView) error
	DeleteStatus(ctx context.Context, sessionID string) error
}

// StatusStore - durable хранилище статусов (Postgres)
type StatusStore interface {
	Upsert(ctx context.Context, view models.SessionView) error
}

// ResultSink - канал результатов для внешних консьюмеров (Redis Stream)
type ResultSink interface {
	PublishStatus(ctx context.Context, view models.SessionView) error
	PublishEvent(ctx context.Context, event models.SessionEvent) error
}

// Publisher рассылает обновление статуса во все выходные каналы.
// Каждый синк best-effort и независим: отказ кэша не мешает записи
// в durable store и наоборот. Отказы логируются и считаются,
// тик мониторинга из-за них не падает.
type Publisher struct {
	cache   StatusCache
	store   StatusStore
	results ResultSink
	log     *utils.Logger

	// Timeout - бюджет на каждый синк
	Timeout time.Duration
}

// NewPublisher создает публикатор. Любой синк может быть nil:
// соответствующий канал просто пропускается.
func NewPublisher(cache StatusCache, store StatusStore, results ResultSink, log *utils.Logger) *Publisher {
	return &Publisher{
		cache:   cache,
		store:   store,
		results: results,
		log:     log.WithComponent("publisher"),
		Timeout: 5 * time.Second,
	}
}

// Publish рассылает представление сессии: кэш, durable store,
// result stream и websocket подписчики
func (p *Publisher) Publish(ctx context.Context, sess *Session, view models.SessionView) {
	if p.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, p.Timeout)
		if err := p.cache.SetStatus(cctx, view); err != nil {
			PublishErrors.WithLabelValues("cache").Inc()
			p.log.Warn("status cache write failed",
				utils.SessionID(view.SessionID), utils.Err(err))
		}
		cancel()
	}

	if p.store != nil {
		sctx, cancel := context.WithTimeout(ctx, p.Timeout)
		if err := p.store.Upsert(sctx, view); err != nil {
			PublishErrors.WithLabelValues("store").Inc()
			p.log.Warn("durable status write failed",
				utils.SessionID(view.SessionID), utils.Err(err))
		}
		cancel()
	}

	if p.results != nil {
		rctx, cancel := context.WithTimeout(ctx, p.Timeout)
		if err := p.results.PublishStatus(rctx, view); err != nil {
			PublishErrors.WithLabelValues("stream").Inc()
			p.log.Warn("result stream write failed",
				utils.SessionID(view.SessionID), utils.Err(err))
		}
		cancel()
	}

	if sess != nil {
		sess.NotifySubscribers(view)
	}
}

// PublishEvents рассылает события жизненного цикла: result stream
// и websocket подписчики. Тот же best-effort контракт что и у статусов.
func (p *Publisher) PublishEvents(ctx context.Context, sess *Session, events []models.SessionEvent) {
	if len(events) == 0 {
		return
	}
	for _, event := range events {
		if p.results != nil {
			ectx, cancel := context.WithTimeout(ctx, p.Timeout)
			if err := p.results.PublishEvent(ectx, event); err != nil {
				PublishErrors.WithLabelValues("events").Inc()
				p.log.Warn("event publish failed",
					utils.SessionID(event.SessionID),
					utils.String("event_type", event.Type),
					utils.Err(err))
			}
			cancel()
		}
		if sess != nil {
			sess.NotifyEventSubscribers(event)
		}
	}
}

// Evict убирает следы вытесненной сессии из кэша
func (p *Publisher) Evict(ctx context.Context, sessionID string) {
	if p.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	if err := p.cache.DeleteStatus(cctx, sessionID); err != nil {
		PublishErrors.WithLabelValues("cache").Inc()
		p.log.Warn("status cache delete failed",
			utils.SessionID(sessionID), utils.Err(err))
	}
}
