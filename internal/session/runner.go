package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"tradepilot/internal/config"
	"tradepilot/internal/models"
	"tradepilot/pkg/retry"
	"tradepilot/pkg/utils"
)

// stopRequest - запрос остановки сессии.
// force пропускает отказ graceful закрытия позиций.
type stopRequest struct {
	force bool
}

// sessionRuntime - runtime живой сессии внутри раннера
type sessionRuntime struct {
	stopCh chan stopRequest
}

// Runner владеет горутинами мониторинга: по одной на живую сессию.
// Статус сессии пишет только её горутина, что снимает гонки записи.
type Runner struct {
	store     *Store
	publisher *Publisher
	cfg       config.MonitorConfig
	log       *utils.Logger

	mu      sync.Mutex
	running map[string]*sessionRuntime

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner создает раннер
func NewRunner(store *Store, publisher *Publisher, cfg config.MonitorConfig, log *utils.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		log:       log.WithComponent("runner"),
		running:   make(map[string]*sessionRuntime),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Launch запускает горутину мониторинга сессии.
// Повторный запуск уже работающей сессии - no-op.
func (r *Runner) Launch(sess *Session, monitor Monitor) {
	id := sess.Config().SessionID

	r.mu.Lock()
	if _, ok := r.running[id]; ok {
		r.mu.Unlock()
		return
	}
	rt := &sessionRuntime{stopCh: make(chan stopRequest, 1)}
	r.running[id] = rt
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(sess, monitor, rt)
}

// Stop запрашивает остановку сессии. Возвращает false если сессия
// не мониторится этим процессом (уже терминальна или неизвестна).
func (r *Runner) Stop(sessionID string, force bool) bool {
	r.mu.Lock()
	rt, ok := r.running[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	// буфер 1: повторные запросы остановки схлопываются
	select {
	case rt.stopCh <- stopRequest{force: force}:
	default:
	}
	return true
}

// IsRunning возвращает true если сессия мониторится этим процессом
func (r *Runner) IsRunning(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[sessionID]
	return ok
}

// Shutdown останавливает все горутины мониторинга и ждет их завершения.
// Состояния сессий не меняются: процесс гасится, сессии не терминируются.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

// run - главный цикл горутины сессии
func (r *Runner) run(sess *Session, monitor Monitor, rt *sessionRuntime) {
	defer r.wg.Done()

	cfg := sess.Config()
	log := r.log.WithSession(cfg.SessionID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("monitor panic",
				utils.Any("panic", rec),
				utils.String("stack", string(debug.Stack())))
			st := sess.Mutate(func(s *models.SessionStatus) {
				if setState(s, models.StateError) {
					s.Error = fmt.Sprintf("panic: %v", rec)
				}
			})
			RecordTermination("panic")
			r.publisher.Publish(context.Background(), sess, models.View(cfg, st))
			r.publisher.PublishEvents(context.Background(), sess, []models.SessionEvent{
				lifecycleEvent(cfg.SessionID, models.EventTypeError, models.SeverityError, "monitor panic"),
			})
			r.forget(cfg.SessionID)
			r.scheduleEviction(cfg.SessionID, st.State)
		}
	}()

	RecordStateChange("", models.StateStarting)
	log.Info("session launched",
		utils.OwnerID(cfg.OwnerID),
		utils.String("mode", cfg.AccountMode))
	r.publisher.Publish(r.baseCtx, sess, sess.View())

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	// первый тик сразу, не дожидаясь интервала
	r.tick(sess, monitor, log)

	for !models.IsTerminal(sess.Status().State) {
		select {
		case <-r.baseCtx.Done():
			log.Info("monitor goroutine stopped: process shutdown")
			r.forget(cfg.SessionID)
			return

		case req := <-rt.stopCh:
			r.handleStop(sess, monitor, req, log)

		case <-ticker.C:
			r.tick(sess, monitor, log)
			// тик дольше интервала: накопившиеся тики пропускаются, не копятся
			select {
			case <-ticker.C:
				RecordTick(cfg.AccountMode, "skipped", 0)
			default:
			}
		}
	}

	finalState := sess.Status().State
	log.Info("session terminated", utils.State(finalState))
	r.forget(cfg.SessionID)
	r.scheduleEviction(cfg.SessionID, finalState)
}

// tick выполняет один цикл мониторинга и проверяет условия терминации
func (r *Runner) tick(sess *Session, monitor Monitor, log *utils.Logger) {
	cfg := sess.Config()
	st := sess.Status()
	if models.IsTerminal(st.State) {
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(r.baseCtx, r.cfg.CallTimeout)
	delta, err := monitor.Tick(ctx, cfg, st)
	cancel()

	if err != nil {
		// транзиентная ошибка: прежние значения остаются, следующий тик повторит
		RecordTick(cfg.AccountMode, "error", 0)
		log.Warn("tick failed, keeping previous values",
			utils.Cycle(st.Cycle), utils.Err(err))
		return
	}
	RecordTick(cfg.AccountMode, "ok", float64(time.Since(start).Milliseconds()))

	prevState := st.State
	newSt := sess.Mutate(func(s *models.SessionStatus) {
		s.Pnl = delta.Pnl
		s.OpenPositions = delta.OpenPositions
		s.Cycle++
		if s.State == models.StateStarting {
			setState(s, models.StateRunning)
		}
	})
	events := delta.Events
	if prevState == models.StateStarting && newSt.State == models.StateRunning {
		log.Info("session running", utils.Cycle(newSt.Cycle))
		events = append(events, lifecycleEvent(cfg.SessionID, models.EventTypeStarted, models.SeverityInfo, "monitoring started"))
	}

	// Порядок терминации фиксирован: цель по прибыли проверяется
	// раньше порога убытка. При одновременном выполнении обоих
	// условий сессия завершается как completed.
	switch {
	case newSt.Pnl >= cfg.ProfitGoal:
		newSt = sess.Mutate(func(s *models.SessionStatus) {
			setState(s, models.StateCompleted)
		})
		RecordTermination("profit_goal")
		log.Info("profit goal reached",
			utils.PNL(newSt.Pnl),
			utils.Float64("profit_goal", cfg.ProfitGoal))
		events = append(events, lifecycleEvent(cfg.SessionID, models.EventTypeCompleted, models.SeverityInfo, "profit goal reached"))

	case newSt.Pnl <= cfg.LossLimit():
		// порог убытка: driven закрывает все позиции перед остановкой
		closed, closeErr := r.shutdownWithRetries(monitor, cfg, log)
		newSt = sess.Mutate(func(s *models.SessionStatus) {
			setState(s, models.StateStopped)
			if cfg.IsDriven() && closeErr == nil {
				s.OpenPositions = 0
			}
			if closeErr != nil {
				s.Error = "loss limit close-all failed: " + closeErr.Error()
			}
		})
		RecordTermination("loss_limit")
		log.Warn("loss limit reached, session stopped",
			utils.PNL(newSt.Pnl),
			utils.Float64("loss_limit", cfg.LossLimit()),
			utils.Int("closed", closed))
		events = append(events, lifecycleEvent(cfg.SessionID, models.EventTypeLossLimit, models.SeverityWarn, "loss limit reached"))
	}

	r.publisher.Publish(r.baseCtx, sess, models.View(cfg, newSt))
	r.publisher.PublishEvents(r.baseCtx, sess, events)
}

// lifecycleEvent собирает событие жизненного цикла сессии
func lifecycleEvent(sessionID, eventType, severity, message string) models.SessionEvent {
	return models.SessionEvent{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		SessionID: sessionID,
		Message:   message,
	}
}

// handleStop выполняет остановку по команде
func (r *Runner) handleStop(sess *Session, monitor Monitor, req stopRequest, log *utils.Logger) {
	cfg := sess.Config()
	if models.IsTerminal(sess.Status().State) {
		return
	}

	closed, err := r.shutdownWithRetries(monitor, cfg, log)

	if err != nil && !req.force {
		// позиции не закрылись, без force сессию останавливать нельзя
		st := sess.Mutate(func(s *models.SessionStatus) {
			if setState(s, models.StateError) {
				s.Error = "stop failed, positions remain open: " + err.Error()
			}
		})
		RecordTermination("error")
		log.Error("stop failed, positions remain open", utils.Err(err))
		r.publisher.Publish(r.baseCtx, sess, models.View(cfg, st))
		r.publisher.PublishEvents(r.baseCtx, sess, []models.SessionEvent{
			lifecycleEvent(cfg.SessionID, models.EventTypeError, models.SeverityError, "stop failed, positions remain open"),
		})
		return
	}

	st := sess.Mutate(func(s *models.SessionStatus) {
		setState(s, models.StateStopped)
		if cfg.IsDriven() && err == nil {
			s.OpenPositions = 0
		}
		if err != nil {
			s.Error = "force stop, close-all failed: " + err.Error()
		}
	})
	RecordTermination("stop_command")
	log.Info("session stopped by command",
		utils.Int("closed", closed),
		utils.Bool("force", req.force))
	r.publisher.Publish(r.baseCtx, sess, models.View(cfg, st))
	r.publisher.PublishEvents(r.baseCtx, sess, []models.SessionEvent{
		lifecycleEvent(cfg.SessionID, models.EventTypeStopped, models.SeverityInfo, "stopped by command"),
	})
}

// shutdownWithRetries закрывает позиции с ограниченным числом попыток.
// Close-all идемпотентен, поэтому повторы безопасны.
func (r *Runner) shutdownWithRetries(monitor Monitor, cfg models.SessionConfig, log *utils.Logger) (int, error) {
	total := 0

	err := retry.Do(r.baseCtx, func() error {
		ctx, cancel := context.WithTimeout(r.baseCtx, r.cfg.CallTimeout)
		n, err := monitor.Shutdown(ctx, cfg)
		cancel()

		total += n
		return err
	}, retry.Config{
		MaxRetries:   r.cfg.CloseRetries + 1,
		InitialDelay: r.cfg.CloseRetryBackoff,
		MaxDelay:     8 * r.cfg.CloseRetryBackoff,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.Warn("close-all attempt failed",
				utils.Int("attempt", attempt), utils.Err(err))
		},
	})
	return total, err
}

// forget убирает runtime сессии из карты раннера
func (r *Runner) forget(sessionID string) {
	r.mu.Lock()
	delete(r.running, sessionID)
	r.mu.Unlock()
}

// scheduleEviction вытесняет терминальную сессию из стора после
// grace-периода: опоздавшие подписчики успевают прочитать финальный статус
func (r *Runner) scheduleEviction(sessionID, finalState string) {
	evict := func() {
		r.store.Remove(sessionID)
		r.publisher.Evict(context.Background(), sessionID)
		RecordStateChange(finalState, "")
		r.log.Info("session evicted", utils.SessionID(sessionID))
	}

	if r.cfg.GracePeriod <= 0 {
		evict()
		return
	}
	time.AfterFunc(r.cfg.GracePeriod, evict)
}
