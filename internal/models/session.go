package models

import "time"

// Режимы аккаунта торговой сессии
const (
	// AccountModeDriven — оркестратор держит подписывающий credential
	// и сам открывает/закрывает позиции
	AccountModeDriven = "driven"

	// AccountModeReflective — оркестратор знает только публичный адрес
	// и пассивно наблюдает за позициями, подписанными извне
	AccountModeReflective = "reflective"
)

// Состояния сессии (state machine)
const (
	StateStarting  = "starting"  // асинхронная инициализация, до первого успешного тика
	StateRunning   = "running"   // мониторинг активен
	StateCompleted = "completed" // цель по прибыли достигнута
	StateStopped   = "stopped"   // остановлена (команда или порог убытка)
	StateError     = "error"     // фатальная ошибка тика, требуется вмешательство
)

// SessionConfig представляет неизменяемую конфигурацию сессии.
// Снимок делается при создании; после этого меняется только SessionStatus.
type SessionConfig struct {
	SessionID            string  `json:"session_id" db:"session_id"`
	OwnerID              string  `json:"owner_id" db:"owner_id"`
	MaxBudget            float64 `json:"max_budget" db:"max_budget"`                         // бюджет в USDT
	ProfitGoal           float64 `json:"profit_goal" db:"profit_goal"`                       // цель по PNL в USDT
	MaxPositions         int     `json:"max_positions" db:"max_positions"`                   // лимит одновременных позиций
	LossThresholdPercent float64 `json:"loss_threshold_percent" db:"loss_threshold_percent"` // доля бюджета (0..1]
	AccountMode          string  `json:"account_mode" db:"account_mode"`                     // driven, reflective

	// Address — публичный адрес для reflective режима
	Address string `json:"address,omitempty" db:"address"`

	// CredentialRef — ссылка на подписывающий credential в внешнем хранилище.
	// Никогда не сериализуется наружу и не логируется.
	CredentialRef string `json:"-" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SessionStatus представляет изменяемое runtime состояние сессии
type SessionStatus struct {
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"`          // starting, running, completed, stopped, error
	Pnl           float64   `json:"pnl"`            // накопленный PNL в USDT (знаковый)
	OpenPositions int       `json:"open_positions"` // всегда 0 <= n <= MaxPositions
	Cycle         int64     `json:"cycle"`          // монотонный счётчик тиков
	LastUpdate    time.Time `json:"last_update"`
	Error         string    `json:"error,omitempty"`
}

// SessionView — внешнее представление сессии: статус + конфигурация
// без credential полей. Единственный формат, уходящий в API и WebSocket.
type SessionView struct {
	SessionStatus
	Config SessionConfig `json:"config"`
}

// View собирает внешнее представление. CredentialRef отбрасывается
// тегом json:"-", дополнительных действий не требуется.
func View(cfg SessionConfig, st SessionStatus) SessionView {
	return SessionView{SessionStatus: st, Config: cfg}
}

// IsTerminal возвращает true если состояние терминальное:
// тики больше не выполняются, сессия ждёт вытеснения из стора
func IsTerminal(state string) bool {
	return state == StateCompleted || state == StateStopped || state == StateError
}

// IsDriven возвращает true для custodial режима
func (c SessionConfig) IsDriven() bool {
	return c.AccountMode == AccountModeDriven
}

// LossLimit возвращает абсолютный порог убытка в USDT (отрицательный)
func (c SessionConfig) LossLimit() float64 {
	return -c.MaxBudget * c.LossThresholdPercent
}
