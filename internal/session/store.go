package session

import (
	"errors"
	"sync"
	"time"

	"tradepilot/internal/models"
)

// Ошибки стора
var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidState    = errors.New("invalid state transition")
)

// Subscriber получает обновления статуса и события сессии.
// Реализуется websocket клиентом; оба метода обязаны не блокировать.
type Subscriber interface {
	Notify(view models.SessionView)
	NotifyEvent(event models.SessionEvent)
}

// Session - живая сессия в сторе: неизменяемая конфигурация плюс
// изменяемый статус под собственным мьютексом. Статус пишет только
// горутина мониторинга, читают все.
type Session struct {
	cfg models.SessionConfig

	mu     sync.RWMutex
	status models.SessionStatus

	subMu       sync.Mutex
	subscribers map[Subscriber]struct{}
}

// Config возвращает копию конфигурации сессии
func (s *Session) Config() models.SessionConfig {
	return s.cfg
}

// Status возвращает снимок текущего статуса
func (s *Session) Status() models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// View возвращает внешнее представление сессии
func (s *Session) View() models.SessionView {
	return models.View(s.cfg, s.Status())
}

// Mutate атомарно изменяет статус и возвращает новый снимок
func (s *Session) Mutate(fn func(st *models.SessionStatus)) models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
	s.status.LastUpdate = time.Now().UTC()
	return s.status
}

// Transition переводит сессию в новое состояние с проверкой допустимости.
// Возвращает новый снимок либо ErrInvalidState.
func (s *Session) Transition(to string) (models.SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.status.State, to) {
		return s.status, ErrInvalidState
	}
	s.status.State = to
	s.status.LastUpdate = time.Now().UTC()
	return s.status, nil
}

// Subscribe добавляет подписчика
func (s *Session) Subscribe(sub Subscriber) {
	s.subMu.Lock()
	s.subscribers[sub] = struct{}{}
	s.subMu.Unlock()
}

// Unsubscribe убирает подписчика
func (s *Session) Unsubscribe(sub Subscriber) {
	s.subMu.Lock()
	delete(s.subscribers, sub)
	s.subMu.Unlock()
}

// NotifySubscribers рассылает представление всем подписчикам сессии
func (s *Session) NotifySubscribers(view models.SessionView) {
	s.subMu.Lock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.Notify(view)
	}
}

// NotifyEventSubscribers рассылает событие всем подписчикам сессии
func (s *Session) NotifyEventSubscribers(event models.SessionEvent) {
	s.subMu.Lock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.NotifyEvent(event)
	}
}

// SubscriberCount возвращает количество подписчиков сессии
func (s *Session) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscribers)
}

// Store - in-memory стор живых сессий. Единственный источник правды
// по активным сессиям процесса; durable-слои обновляются best-effort.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore создает пустой стор
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create регистрирует новую сессию в состоянии starting
func (st *Store) Create(cfg models.SessionConfig) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[cfg.SessionID]; ok {
		return nil, ErrSessionExists
	}

	sess := &Session{
		cfg: cfg,
		status: models.SessionStatus{
			SessionID:  cfg.SessionID,
			State:      models.StateStarting,
			LastUpdate: time.Now().UTC(),
		},
		subscribers: make(map[Subscriber]struct{}),
	}
	st.sessions[cfg.SessionID] = sess
	return sess, nil
}

// Get возвращает сессию по идентификатору
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	return sess, ok
}

// ListAll возвращает представления всех живых сессий
func (st *Store) ListAll() []models.SessionView {
	st.mu.RLock()
	defer st.mu.RUnlock()

	views := make([]models.SessionView, 0, len(st.sessions))
	for _, sess := range st.sessions {
		views = append(views, sess.View())
	}
	return views
}

// ListByOwner возвращает представления сессий владельца
func (st *Store) ListByOwner(ownerID string) []models.SessionView {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var views []models.SessionView
	for _, sess := range st.sessions {
		if sess.cfg.OwnerID == ownerID {
			views = append(views, sess.View())
		}
	}
	return views
}

// Remove вытесняет сессию из стора
func (st *Store) Remove(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Count возвращает количество живых сессий
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Subscribe подписывает на сессию и возвращает текущее представление
// для немедленной отправки подписчику
func (st *Store) Subscribe(id string, sub Subscriber) (models.SessionView, error) {
	sess, ok := st.Get(id)
	if !ok {
		return models.SessionView{}, ErrSessionNotFound
	}
	sess.Subscribe(sub)
	return sess.View(), nil
}

// Unsubscribe отписывает от сессии. Отсутствие сессии не ошибка:
// она могла быть вытеснена раньше отписки.
func (st *Store) Unsubscribe(id string, sub Subscriber) {
	if sess, ok := st.Get(id); ok {
		sess.Unsubscribe(sub)
	}
}

// UnsubscribeAll убирает подписчика из всех сессий (закрытие соединения)
func (st *Store) UnsubscribeAll(sub Subscriber) {
	st.mu.RLock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		sessions = append(sessions, sess)
	}
	st.mu.RUnlock()

	for _, sess := range sessions {
		sess.Unsubscribe(sub)
	}
}
