package models

import "time"

// SessionEvent представляет событие жизненного цикла сессии
// (пуш подписчикам и запись в журнал)
type SessionEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`     // STARTED, COMPLETED, STOPPED, ERROR, POSITION_OPEN, POSITION_CLOSE, LOSS_LIMIT
	Severity  string                 `json:"severity"` // info, warn, error
	SessionID string                 `json:"session_id"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// Типы событий
const (
	EventTypeStarted       = "STARTED"        // сессия запущена
	EventTypeCompleted     = "COMPLETED"      // цель по прибыли достигнута
	EventTypeStopped       = "STOPPED"        // сессия остановлена
	EventTypeError         = "ERROR"          // фатальная ошибка тика
	EventTypePositionOpen  = "POSITION_OPEN"  // открыта позиция (driven)
	EventTypePositionClose = "POSITION_CLOSE" // закрыта позиция (driven)
	EventTypeLossLimit     = "LOSS_LIMIT"     // сработал порог убытка
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
