package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"tradepilot/internal/queue"
	"tradepilot/internal/service"
	"tradepilot/pkg/utils"
)

// SessionHandler обрабатывает HTTP запросы управления сессиями
type SessionHandler struct {
	service *service.SessionService
	log     *utils.Logger
}

// NewSessionHandler создает новый SessionHandler
func NewSessionHandler(svc *service.SessionService, log *utils.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		log:     log.WithComponent("session_handler"),
	}
}

// CreateSession обрабатывает POST /api/v1/sessions
//
// Тело запроса: service.CreateSessionRequest.
// Ответ 201: представление сессии в состоянии starting.
// Фактический запуск происходит асинхронно через командный канал.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req service.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	view, err := h.service.CreateSession(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, view)
}

// GetSessions обрабатывает GET /api/v1/sessions
//
// Без параметров возвращает живые сессии процесса.
// С ?owner=<id> возвращает сессии владельца, включая завершенные
// из durable истории.
func (h *SessionHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	if owner := r.URL.Query().Get("owner"); owner != "" {
		views, err := h.service.ListByOwner(r.Context(), owner)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		respondWithJSON(w, http.StatusOK, views)
		return
	}

	respondWithJSON(w, http.StatusOK, h.service.ListSessions(r.Context()))
}

// GetSession обрабатывает GET /api/v1/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	view, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

// StopSession обрабатывает POST /api/v1/sessions/{id}/stop
//
// Параметр ?force=true переводит сессию в stopped даже если
// закрытие позиций не удалось.
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	force := r.URL.Query().Get("force") == "true"

	if err := h.service.StopSession(r.Context(), sessionID, force); err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, SuccessResponse{
		Message: "session stop enqueued",
		Data:    map[string]interface{}{"session_id": sessionID, "force": force},
	})
}

// UpdatePosition обрабатывает PATCH /api/v1/sessions/{id}/position
//
// Тело запроса: queue.PositionChange. Допустимо только для живой
// driven-сессии в состоянии running.
func (h *SessionHandler) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var change queue.PositionChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	if change.Op != queue.PositionOpOpen && change.Op != queue.PositionOpClose {
		respondWithError(w, http.StatusBadRequest, "invalid_op", "op must be open or close", "")
		return
	}

	if err := h.service.UpdatePosition(r.Context(), sessionID, change); err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, SuccessResponse{
		Message: "position change enqueued",
		Data:    map[string]interface{}{"session_id": sessionID, "op": change.Op},
	})
}
