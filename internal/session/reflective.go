package session

import (
	"context"
	"sync"

	"tradepilot/internal/exchange"
	"tradepilot/internal/models"
	"tradepilot/pkg/utils"
)

// ReflectiveMonitor - пассивное наблюдение за аккаунтом по публичному
// адресу. Подписывающего credential нет, торговых операций нет.
type ReflectiveMonitor struct {
	reader exchange.Reader
	log    *utils.Logger
}

// NewReflectiveMonitor создает reflective-мониторинг
func NewReflectiveMonitor(reader exchange.Reader, log *utils.Logger) *ReflectiveMonitor {
	return &ReflectiveMonitor{
		reader: reader,
		log:    log.WithComponent("reflective_monitor"),
	}
}

// Tick снимает позиции и PNL адреса. Оба запроса идут параллельно:
// это два независимых чтения одной площадки.
func (m *ReflectiveMonitor) Tick(ctx context.Context, cfg models.SessionConfig, st models.SessionStatus) (StatusDelta, error) {
	var (
		wg        sync.WaitGroup
		positions []exchange.Position
		pnl       float64
		posErr    error
		pnlErr    error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		positions, posErr = m.reader.GetPositions(ctx, cfg.Address)
	}()
	go func() {
		defer wg.Done()
		pnl, pnlErr = m.reader.GetTotalPnl(ctx, cfg.Address)
	}()
	wg.Wait()

	if posErr != nil {
		return StatusDelta{}, posErr
	}
	if pnlErr != nil {
		return StatusDelta{}, pnlErr
	}

	// Позиции подписываются извне, адрес может держать их больше,
	// чем разрешено сессии. Статус не выходит за лимит сессии.
	open := len(positions)
	if cfg.MaxPositions > 0 && open > cfg.MaxPositions {
		m.log.Debug("external positions exceed session cap",
			utils.SessionID(cfg.SessionID),
			utils.Positions(open))
		open = cfg.MaxPositions
	}

	return StatusDelta{Pnl: pnl, OpenPositions: open}, nil
}

// Shutdown для reflective режима no-op: закрывать позиции нечем
func (m *ReflectiveMonitor) Shutdown(ctx context.Context, cfg models.SessionConfig) (int, error) {
	return 0, nil
}
