package websocket

import (
	"time"

	"tradepilot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы исходящих сообщений
const (
	// MessageTypeTradingUpdate - обновление статуса сессии.
	// Отправляется на каждый тик мониторинга подписанным клиентам.
	MessageTypeTradingUpdate MessageType = "trading_update"

	// MessageTypeSessionEvent - событие сессии (терминация, позиции)
	MessageTypeSessionEvent MessageType = "session_event"

	// MessageTypePong - ответ на ping клиента
	MessageTypePong MessageType = "pong"

	// MessageTypeError - ошибка обработки клиентского сообщения
	MessageTypeError MessageType = "error"
)

// Типы входящих сообщений клиента
const (
	ClientMessageSubscribe   = "subscribe"
	ClientMessageUnsubscribe = "unsubscribe"
	ClientMessagePing        = "ping"
)

// ClientMessage - входящее сообщение клиента
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// TradingUpdateMessage - обновление статуса сессии
type TradingUpdateMessage struct {
	Type      MessageType        `json:"type"`
	SessionID string             `json:"session_id"`
	Data      models.SessionView `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewTradingUpdateMessage создает сообщение об обновлении сессии
func NewTradingUpdateMessage(view models.SessionView) *TradingUpdateMessage {
	return &TradingUpdateMessage{
		Type:      MessageTypeTradingUpdate,
		SessionID: view.SessionID,
		Data:      view,
		Timestamp: time.Now().UTC(),
	}
}

// SessionEventMessage - событие жизненного цикла сессии
type SessionEventMessage struct {
	Type      MessageType         `json:"type"`
	SessionID string              `json:"session_id"`
	Data      models.SessionEvent `json:"data"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewSessionEventMessage создает сообщение о событии сессии
func NewSessionEventMessage(event models.SessionEvent) *SessionEventMessage {
	return &SessionEventMessage{
		Type:      MessageTypeSessionEvent,
		SessionID: event.SessionID,
		Data:      event,
		Timestamp: time.Now().UTC(),
	}
}

// PongMessage - ответ на ping
type PongMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorMessage - ошибка обработки клиентского сообщения
type ErrorMessage struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	SessionID string      `json:"session_id,omitempty"`
}
