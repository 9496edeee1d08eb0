// Package session реализует оркестрацию торговых сессий: стор,
// мониторинг, терминацию и публикацию статусов.
package session

import "tradepilot/internal/models"

// ValidTransitions определяет допустимые переходы между состояниями
var ValidTransitions = map[string][]string{
	models.StateStarting: {models.StateRunning, models.StateStopped, models.StateError},
	models.StateRunning:  {models.StateCompleted, models.StateStopped, models.StateError},
	// Терминальные состояния переходов не имеют: сессия ждёт вытеснения
	models.StateCompleted: {},
	models.StateStopped:   {},
	models.StateError:     {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// setState переводит статус в to, если переход допустим.
// Недопустимый переход ничего не меняет и возвращает false.
func setState(s *models.SessionStatus, to string) bool {
	if !CanTransition(s.State, to) {
		return false
	}
	RecordStateChange(s.State, to)
	s.State = to
	return true
}
