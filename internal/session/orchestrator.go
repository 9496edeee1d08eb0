package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradepilot/internal/exchange"
	"tradepilot/internal/models"
	"tradepilot/internal/queue"
	"tradepilot/pkg/utils"
)

// StrategyFactory выбирает стратегию для driven-сессии
type StrategyFactory func(cfg models.SessionConfig) Strategy

// Orchestrator превращает команды канала в операции над сессиями.
// Канал доставляет at-least-once, поэтому каждый обработчик
// идемпотентен: повтор уже примененной команды - no-op.
type Orchestrator struct {
	store      *Store
	runner     *Runner
	publisher  *Publisher
	venue      exchange.Venue
	strategies StrategyFactory
	log        *utils.Logger
}

// NewOrchestrator создает оркестратор
func NewOrchestrator(store *Store, runner *Runner, publisher *Publisher, venue exchange.Venue, strategies StrategyFactory, log *utils.Logger) *Orchestrator {
	if strategies == nil {
		strategies = func(models.SessionConfig) Strategy { return NoopStrategy{} }
	}
	return &Orchestrator{
		store:      store,
		runner:     runner,
		publisher:  publisher,
		venue:      venue,
		strategies: strategies,
		log:        log.WithComponent("orchestrator"),
	}
}

// HandleCommand реализует queue.Handler
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd queue.Command) error {
	switch cmd.Type {
	case queue.CommandStartSession:
		return o.handleStart(ctx, cmd)
	case queue.CommandStopSession:
		return o.handleStop(ctx, cmd)
	case queue.CommandUpdatePosition:
		return o.handleUpdatePosition(ctx, cmd)
	default:
		// неизвестный тип не лечится повтором, команда подтверждается
		o.log.Warn("unknown command type dropped",
			utils.String("command_id", cmd.ID),
			utils.String("type", cmd.Type))
		return nil
	}
}

// handleStart создает сессию и запускает мониторинг.
// Повторная доставка start для живой сессии - no-op.
func (o *Orchestrator) handleStart(ctx context.Context, cmd queue.Command) error {
	cfg, ok := cmd.SessionConfig()
	if !ok {
		o.log.Warn("start command without config dropped",
			utils.String("command_id", cmd.ID))
		return nil
	}

	sess, err := o.store.Create(cfg)
	if err != nil {
		if errors.Is(err, ErrSessionExists) {
			o.log.Debug("duplicate start ignored", utils.SessionID(cfg.SessionID))
			return nil
		}
		return err
	}

	o.runner.Launch(sess, o.monitorFor(cfg))
	o.log.Info("session started",
		utils.SessionID(cfg.SessionID),
		utils.OwnerID(cfg.OwnerID),
		utils.String("mode", cfg.AccountMode))
	return nil
}

// handleStop запрашивает остановку сессии.
// Отсутствующая или уже терминальная сессия - no-op.
func (o *Orchestrator) handleStop(ctx context.Context, cmd queue.Command) error {
	sess, ok := o.store.Get(cmd.SessionID)
	if !ok {
		o.log.Debug("stop for unknown session ignored", utils.SessionID(cmd.SessionID))
		return nil
	}
	if models.IsTerminal(sess.Status().State) {
		o.log.Debug("stop for terminal session ignored", utils.SessionID(cmd.SessionID))
		return nil
	}

	if !o.runner.Stop(cmd.SessionID, cmd.Force) {
		o.log.Debug("stop for unmonitored session ignored", utils.SessionID(cmd.SessionID))
	}
	return nil
}

// handleUpdatePosition выполняет ручную операцию над позицией
// driven-сессии. Результат операции подхватит ближайший тик.
func (o *Orchestrator) handleUpdatePosition(ctx context.Context, cmd queue.Command) error {
	if cmd.Position == nil {
		o.log.Warn("position command without payload dropped",
			utils.String("command_id", cmd.ID))
		return nil
	}

	sess, ok := o.store.Get(cmd.SessionID)
	if !ok {
		o.log.Debug("position change for unknown session ignored",
			utils.SessionID(cmd.SessionID))
		return nil
	}

	cfg := sess.Config()
	st := sess.Status()
	if !cfg.IsDriven() {
		o.log.Warn("position change rejected: reflective session",
			utils.SessionID(cmd.SessionID))
		return nil
	}
	if st.State != models.StateRunning {
		o.log.Warn("position change rejected: session not running",
			utils.SessionID(cmd.SessionID), utils.State(st.State))
		return nil
	}

	switch cmd.Position.Op {
	case queue.PositionOpOpen:
		if st.OpenPositions >= cfg.MaxPositions {
			o.log.Warn("position change rejected: cap reached",
				utils.SessionID(cmd.SessionID),
				utils.Positions(st.OpenPositions))
			return nil
		}
		idx, err := o.venue.OpenPosition(ctx, cfg.CredentialRef, cmd.Position.Open)
		if err != nil {
			return fmt.Errorf("manual open: %w", err)
		}
		PositionsOpened.Inc()
		o.log.Info("position opened by command",
			utils.SessionID(cmd.SessionID),
			utils.Symbol(cmd.Position.Open.Symbol),
			utils.PairIndex(idx))
		o.publisher.PublishEvents(ctx, sess, []models.SessionEvent{{
			Timestamp: time.Now().UTC(),
			Type:      models.EventTypePositionOpen,
			Severity:  models.SeverityInfo,
			SessionID: cmd.SessionID,
			Message:   "position opened by command",
			Meta:      map[string]interface{}{"pair_index": idx, "symbol": cmd.Position.Open.Symbol},
		}})

	case queue.PositionOpClose:
		err := o.venue.ClosePosition(ctx, cfg.CredentialRef, cmd.Position.PairIndex)
		if err != nil {
			// повторно доставленный close уже закрытой позиции - no-op
			if isNotFound(err) {
				o.log.Debug("close for missing position ignored",
					utils.SessionID(cmd.SessionID),
					utils.PairIndex(cmd.Position.PairIndex))
				return nil
			}
			return fmt.Errorf("manual close: %w", err)
		}
		PositionsClosed.Inc()
		o.log.Info("position closed by command",
			utils.SessionID(cmd.SessionID),
			utils.PairIndex(cmd.Position.PairIndex))
		o.publisher.PublishEvents(ctx, sess, []models.SessionEvent{{
			Timestamp: time.Now().UTC(),
			Type:      models.EventTypePositionClose,
			Severity:  models.SeverityInfo,
			SessionID: cmd.SessionID,
			Message:   "position closed by command",
			Meta:      map[string]interface{}{"pair_index": cmd.Position.PairIndex},
		}})

	default:
		o.log.Warn("unknown position op dropped",
			utils.String("command_id", cmd.ID),
			utils.String("op", cmd.Position.Op))
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, exchange.ErrPositionNotFound)
}

// monitorFor выбирает мониторинг по режиму аккаунта
func (o *Orchestrator) monitorFor(cfg models.SessionConfig) Monitor {
	if cfg.IsDriven() {
		return NewDrivenMonitor(o.venue, o.strategies(cfg), o.log)
	}
	return NewReflectiveMonitor(o.venue, o.log)
}
