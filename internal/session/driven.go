package session

import (
	"context"
	"time"

	"tradepilot/internal/exchange"
	"tradepilot/internal/models"
	"tradepilot/pkg/utils"
)

// DrivenMonitor - активный мониторинг custodial сессии: читает
// состояние аккаунта, исполняет решения стратегии через Executor
// и при остановке закрывает все позиции.
type DrivenMonitor struct {
	venue    exchange.Venue
	strategy Strategy
	log      *utils.Logger
}

// NewDrivenMonitor создает driven-мониторинг
func NewDrivenMonitor(venue exchange.Venue, strategy Strategy, log *utils.Logger) *DrivenMonitor {
	if strategy == nil {
		strategy = NoopStrategy{}
	}
	return &DrivenMonitor{
		venue:    venue,
		strategy: strategy,
		log:      log.WithComponent("driven_monitor"),
	}
}

// Tick снимает состояние аккаунта и исполняет решения стратегии
func (m *DrivenMonitor) Tick(ctx context.Context, cfg models.SessionConfig, st models.SessionStatus) (StatusDelta, error) {
	key := accountKey(cfg)

	positions, err := m.venue.GetPositions(ctx, key)
	if err != nil {
		return StatusDelta{}, err
	}
	pnl, err := m.venue.GetTotalPnl(ctx, key)
	if err != nil {
		return StatusDelta{}, err
	}

	delta := StatusDelta{Pnl: pnl, OpenPositions: len(positions)}

	actions := m.strategy.Decide(DecisionInput{
		Config:    cfg,
		Positions: positions,
		Pnl:       pnl,
		Cycle:     st.Cycle,
	})

	for _, action := range actions {
		switch action.Type {
		case ActionOpen:
			// лимит позиций соблюдается здесь, а не в стратегии
			if delta.OpenPositions >= cfg.MaxPositions {
				m.log.Debug("open skipped: position cap reached",
					utils.SessionID(cfg.SessionID),
					utils.Positions(delta.OpenPositions))
				continue
			}
			idx, err := m.venue.OpenPosition(ctx, cfg.CredentialRef, action.Open)
			if err != nil {
				m.log.Warn("open position failed",
					utils.SessionID(cfg.SessionID),
					utils.Symbol(action.Open.Symbol),
					utils.Err(err))
				continue
			}
			delta.OpenPositions++
			PositionsOpened.Inc()
			delta.Events = append(delta.Events, models.SessionEvent{
				SessionID: cfg.SessionID,
				Type:      models.EventTypePositionOpen,
				Severity:  models.SeverityInfo,
				Message:   action.Open.Symbol,
				Timestamp: time.Now().UTC(),
			})
			m.log.Info("position opened",
				utils.SessionID(cfg.SessionID),
				utils.Symbol(action.Open.Symbol),
				utils.PairIndex(idx),
				utils.Collateral(action.Open.Collateral))

		case ActionClose:
			if err := m.venue.ClosePosition(ctx, cfg.CredentialRef, action.PairIndex); err != nil {
				m.log.Warn("close position failed",
					utils.SessionID(cfg.SessionID),
					utils.PairIndex(action.PairIndex),
					utils.Err(err))
				continue
			}
			if delta.OpenPositions > 0 {
				delta.OpenPositions--
			}
			PositionsClosed.Inc()
			delta.Events = append(delta.Events, models.SessionEvent{
				SessionID: cfg.SessionID,
				Type:      models.EventTypePositionClose,
				Severity:  models.SeverityInfo,
				Message:   "strategy close",
				Timestamp: time.Now().UTC(),
			})
		}
	}

	return delta, nil
}

// Shutdown закрывает все открытые позиции аккаунта
func (m *DrivenMonitor) Shutdown(ctx context.Context, cfg models.SessionConfig) (int, error) {
	n, err := m.venue.CloseAllPositions(ctx, cfg.CredentialRef)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Info("all positions closed",
			utils.SessionID(cfg.SessionID),
			utils.Positions(n))
	}
	return n, nil
}
