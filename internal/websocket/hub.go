// Package websocket - real-time шлюз статусов сессий.
//
// Клиент подключается к /ws/stream и подписывается на конкретные
// сессии. Рассылка идет через подписки стора: горутина мониторинга
// публикует статус, каждый подписанный клиент получает сообщение
// в свой буфер.
package websocket

import (
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"tradepilot/internal/session"
	"tradepilot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub управляет активными WebSocket соединениями
type Hub struct {
	store *session.Store
	log   *utils.Logger

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Остановка главного цикла
	stop chan struct{}

	// Зарегистрированные клиенты
	clients map[*Client]bool
	mu      sync.RWMutex

	// Счетчик сообщений, сброшенных из-за медленных клиентов
	dropped atomic.Int64
}

// NewHub создает новый Hub
func NewHub(store *session.Store, log *utils.Logger) *Hub {
	return &Hub{
		store:      store,
		log:        log.WithComponent("ws_hub"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Run запускает главный цикл Hub.
// Должен запускаться в отдельной горутине: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client connected", utils.Int("total_clients", total))

		case client := <-h.unregister:
			h.removeClient(client)

		case <-h.stop:
			// закрываются все клиенты, их pump-горутины завершаются сами
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop останавливает hub и закрывает все соединения
func (h *Hub) Stop() {
	close(h.stop)
}

// removeClient убирает клиента: подписки, карта, writePump
func (h *Hub) removeClient(client *Client) {
	h.store.UnsubscribeAll(client)
	client.clearSubs()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
		h.log.Info("client disconnected", utils.Int("total_clients", len(h.clients)))
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает количество сброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
