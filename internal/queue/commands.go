// Package queue реализует durable командный канал и канал результатов
// поверх Redis Streams. Команды доставляются at-least-once,
// обработчики обязаны быть идемпотентными.
package queue

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"tradepilot/internal/exchange"
	"tradepilot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Типы команд
const (
	CommandStartSession   = "start_session"
	CommandStopSession    = "stop_session"
	CommandUpdatePosition = "update_position"
)

// Операции над позицией для CommandUpdatePosition
const (
	PositionOpOpen  = "open"
	PositionOpClose = "close"
)

// PositionChange - ручное изменение позиции driven-сессии
type PositionChange struct {
	Op        string               `json:"op"` // open, close
	Open      exchange.OpenRequest `json:"open,omitempty"`
	PairIndex int                  `json:"pair_index,omitempty"`
}

// Command - сообщение командного канала.
// CredentialRef едет отдельным полем: в models.SessionConfig он
// намеренно исключен из сериализации, а внутренний канал обязан
// донести его до оркестратора.
type Command struct {
	ID        string `json:"id"` // uuid, для логов и трассировки
	Type      string `json:"type"`
	SessionID string `json:"session_id"`

	Config        *models.SessionConfig `json:"config,omitempty"` // start_session
	CredentialRef string                `json:"credential_ref,omitempty"`

	Force bool `json:"force,omitempty"` // stop_session

	Position *PositionChange `json:"position,omitempty"` // update_position

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// SessionConfig восстанавливает конфигурацию из команды start_session,
// возвращая credential ref на место
func (c *Command) SessionConfig() (models.SessionConfig, bool) {
	if c.Config == nil {
		return models.SessionConfig{}, false
	}
	cfg := *c.Config
	cfg.CredentialRef = c.CredentialRef
	return cfg, true
}

// encode сериализует команду в payload поля Redis Stream
func (c *Command) encode() (map[string]interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"payload": string(data)}, nil
}

// decodeCommand восстанавливает команду из полей сообщения стрима
func decodeCommand(values map[string]interface{}) (Command, error) {
	var cmd Command
	payload, ok := values["payload"].(string)
	if !ok {
		return cmd, errMalformedMessage
	}
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		return cmd, err
	}
	return cmd, nil
}
