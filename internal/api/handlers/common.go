// Package handlers содержит HTTP handlers REST API
package handlers

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"tradepilot/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	respondWithJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// serviceErrorStatus маппит ошибки сервисного слоя на HTTP статусы
var serviceErrorStatus = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{service.ErrSessionNotDriven, http.StatusConflict, "session_not_driven"},
	{service.ErrSessionNotRunning, http.StatusConflict, "session_not_running"},
	{service.ErrUnknownCredential, http.StatusUnprocessableEntity, "unknown_credential"},
	{service.ErrMissingOwner, http.StatusBadRequest, "missing_owner"},
	{service.ErrInvalidBudget, http.StatusBadRequest, "invalid_budget"},
	{service.ErrInvalidProfitGoal, http.StatusBadRequest, "invalid_profit_goal"},
	{service.ErrInvalidMaxPositions, http.StatusBadRequest, "invalid_max_positions"},
	{service.ErrInvalidLossThreshold, http.StatusBadRequest, "invalid_loss_threshold"},
	{service.ErrInvalidAccountMode, http.StatusBadRequest, "invalid_account_mode"},
	{service.ErrMissingAddress, http.StatusBadRequest, "missing_address"},
	{service.ErrMissingCredential, http.StatusBadRequest, "missing_credential"},
}

// handleServiceError переводит ошибку сервиса в HTTP ответ.
// Неизвестные ошибки считаются внутренними и не раскрывают детали.
func handleServiceError(w http.ResponseWriter, err error) {
	for _, m := range serviceErrorStatus {
		if errors.Is(err, m.err) {
			respondWithError(w, m.status, m.code, m.err.Error(), "")
			return
		}
	}
	respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
}
