package websocket

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradepilot/internal/models"
	"tradepilot/internal/session"
	"tradepilot/pkg/utils"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	maxMessageSize = 4096

	// Размер буфера отправки клиента
	clientSendBufferSize = 256
)

// OriginChecker проверяет Origin с O(1) lookup через map
// Потокобезопасен для чтения после инициализации
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

var originChecker = initOriginChecker()

func initOriginChecker() *OriginChecker {
	checker := &OriginChecker{
		allowedOrigins: make(map[string]struct{}),
	}

	// ALLOWED_ORIGINS=http://localhost:3000,https://example.com
	envOrigins := os.Getenv("ALLOWED_ORIGINS")
	if envOrigins == "" || envOrigins == "*" {
		checker.allowAll = true
		return checker
	}

	for _, origin := range strings.Split(envOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	return checker
}

// Check проверяет origin за O(1)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // non-browser клиенты (curl, API tools)
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return originChecker.Check(r.Header.Get("Origin"))
	},
	EnableCompression: true,
}

// Client представляет одно WebSocket соединение.
//
// Две горутины на клиента: readPump принимает команды
// subscribe/unsubscribe/ping, writePump шлет обновления и ping.
// Client реализует session.Subscriber: Notify кладет сообщение
// в буфер отправки без блокировки.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	log  *utils.Logger

	// Буферизованный канал исходящих сообщений.
	// Никогда не закрывается: горутина мониторинга может держать
	// снимок подписчиков и отправить сообщение уже после отключения
	// клиента, close здесь означал бы панику в чужой горутине.
	send chan []byte

	// Закрывается hub-ом при отключении, будит writePump
	done chan struct{}

	// Активные подписки клиента; closed под тем же мьютексом
	subMu  sync.Mutex
	subs   map[string]struct{}
	closed bool
}

// Notify реализует session.Subscriber.
// Вызывается из горутин мониторинга и не имеет права блокироваться:
// медленный клиент теряет сообщение, а не тормозит тики.
func (c *Client) Notify(view models.SessionView) {
	data, err := json.Marshal(NewTradingUpdateMessage(view))
	if err != nil {
		c.log.Error("marshal trading update failed", utils.Err(err))
		return
	}
	c.enqueue(data)
}

// NotifyEvent реализует session.Subscriber для событий сессии.
// Тот же контракт что и Notify: без блокировки.
func (c *Client) NotifyEvent(event models.SessionEvent) {
	data, err := json.Marshal(NewSessionEventMessage(event))
	if err != nil {
		c.log.Error("marshal session event failed", utils.Err(err))
		return
	}
	c.enqueue(data)
}

// enqueue кладет сообщение в буфер отправки без блокировки.
// Сообщение отключенному клиенту молча теряется.
func (c *Client) enqueue(data []byte) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.dropped.Add(1)
	}
}

// close помечает клиента отключенным и останавливает writePump
func (c *Client) close() {
	c.subMu.Lock()
	if c.closed {
		c.subMu.Unlock()
		return
	}
	c.closed = true
	c.subMu.Unlock()
	close(c.done)
}

// enqueueJSON сериализует и кладет сообщение в буфер
func (c *Client) enqueueJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal message failed", utils.Err(err))
		return
	}
	c.enqueue(data)
}

// clearSubs сбрасывает подписки при отключении клиента
func (c *Client) clearSubs() {
	c.subMu.Lock()
	n := len(c.subs)
	c.subs = make(map[string]struct{})
	c.subMu.Unlock()
	if n > 0 {
		session.SessionSubscribers.Sub(float64(n))
	}
}

// readPump читает команды клиента
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", utils.Err(err))
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.enqueueJSON(&ErrorMessage{Type: MessageTypeError, Message: "malformed message"})
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage обрабатывает одну команду клиента
func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case ClientMessageSubscribe:
		if msg.SessionID == "" {
			c.enqueueJSON(&ErrorMessage{Type: MessageTypeError, Message: "session_id required"})
			return
		}

		view, err := c.hub.store.Subscribe(msg.SessionID, c)
		if err != nil {
			c.enqueueJSON(&ErrorMessage{
				Type:      MessageTypeError,
				Message:   "session not found",
				SessionID: msg.SessionID,
			})
			return
		}

		c.subMu.Lock()
		_, already := c.subs[msg.SessionID]
		c.subs[msg.SessionID] = struct{}{}
		c.subMu.Unlock()
		if !already {
			session.SessionSubscribers.Inc()
		}

		// подписчик сразу получает текущий статус, даже терминальный
		c.Notify(view)

	case ClientMessageUnsubscribe:
		c.hub.store.Unsubscribe(msg.SessionID, c)
		c.subMu.Lock()
		_, had := c.subs[msg.SessionID]
		delete(c.subs, msg.SessionID)
		c.subMu.Unlock()
		if had {
			session.SessionSubscribers.Dec()
		}

	case ClientMessagePing:
		c.enqueueJSON(&PongMessage{Type: MessageTypePong, Timestamp: time.Now().UTC()})

	default:
		c.enqueueJSON(&ErrorMessage{Type: MessageTypeError, Message: "unknown message type"})
	}
}

// writePump отправляет сообщения клиенту и пингует соединение
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

		drainLoop:
			for {
				select {
				case msg := <-c.send:
					w.Write([]byte{'\n'})
					w.Write(msg)
				default:
					break drainLoop
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS обрабатывает WebSocket запросы от клиента.
// Использование в routes:
// router.HandleFunc("/ws/stream", func(w, r) { websocket.ServeWS(hub, w, r) })
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade failed", utils.Err(err))
		return
	}

	client := &Client{
		conn: conn,
		hub:  hub,
		log:  hub.log,
		send: make(chan []byte, clientSendBufferSize),
		done: make(chan struct{}),
		subs: make(map[string]struct{}),
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}
