package session

import (
	"context"

	"tradepilot/internal/models"
)

// StatusDelta - результат одного тика мониторинга.
// Абсолютные значения, не приращения: тик видит площадку целиком.
type StatusDelta struct {
	Pnl           float64
	OpenPositions int
	Events        []models.SessionEvent
}

// Monitor выполняет один цикл наблюдения за сессией.
// Tick обязан уважать дедлайн контекста; ошибка тика транзиентна -
// раннер сохраняет предыдущие значения и пробует на следующем тике.
type Monitor interface {
	// Tick снимает состояние аккаунта и (для driven) исполняет решения стратегии
	Tick(ctx context.Context, cfg models.SessionConfig, st models.SessionStatus) (StatusDelta, error)

	// Shutdown закрывает открытые позиции при остановке сессии.
	// Возвращает количество закрытых позиций. Для reflective режима no-op.
	Shutdown(ctx context.Context, cfg models.SessionConfig) (int, error)
}

// accountKey возвращает ключ аккаунта на площадке: публичный адрес
// если известен, иначе credential ref (sim режим)
func accountKey(cfg models.SessionConfig) string {
	if cfg.Address != "" {
		return cfg.Address
	}
	return cfg.CredentialRef
}
