// Package service - бизнес-логика тонкого API слоя: валидация
// запросов и постановка команд в канал. Сами операции над сессиями
// выполняет оркестратор на стороне консьюмера.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tradepilot/internal/cache"
	"tradepilot/internal/models"
	"tradepilot/internal/queue"
	"tradepilot/internal/repository"
	"tradepilot/internal/session"
	"tradepilot/pkg/utils"
)

// Ошибки сервиса сессий
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvalidBudget        = errors.New("max budget must be greater than 0")
	ErrInvalidProfitGoal    = errors.New("profit goal must be greater than 0")
	ErrInvalidMaxPositions  = errors.New("max positions must be between 1 and 20")
	ErrInvalidLossThreshold = errors.New("loss threshold must be in (0, 1]")
	ErrInvalidAccountMode   = errors.New("account mode must be driven or reflective")
	ErrMissingAddress       = errors.New("reflective session requires a valid address")
	ErrMissingCredential    = errors.New("driven session requires a credential ref")
	ErrUnknownCredential    = errors.New("credential ref is not registered")
	ErrMissingOwner         = errors.New("owner id is required")
	ErrSessionNotDriven     = errors.New("position changes allowed only for driven sessions")
	ErrSessionNotRunning    = errors.New("session is not running")
)

// Лимит одновременных позиций сессии
const (
	MinPositions = 1
	MaxPositions = 20
)

// CommandProducer кладет команды в командный канал
type CommandProducer interface {
	EnqueueStart(ctx context.Context, cfg models.SessionConfig) (string, error)
	EnqueueStop(ctx context.Context, sessionID string, force bool) (string, error)
	EnqueuePositionChange(ctx context.Context, sessionID string, change queue.PositionChange) (string, error)
}

// StatusReader - read path кэша статусов
type StatusReader interface {
	GetStatus(ctx context.Context, sessionID string) (*models.SessionView, error)
}

// HistoryReader - durable хранилище статусов
type HistoryReader interface {
	GetByID(ctx context.Context, sessionID string) (*models.SessionView, error)
	GetByOwner(ctx context.Context, ownerID string) ([]models.SessionView, error)
	ListRecent(ctx context.Context, limit int) ([]models.SessionView, error)
}

// CredentialValidator проверяет что credential ref разрешим
type CredentialValidator interface {
	Validate(ref string) error
}

// CreateSessionRequest - запрос создания сессии
type CreateSessionRequest struct {
	OwnerID              string  `json:"owner_id"`
	MaxBudget            float64 `json:"max_budget"`
	ProfitGoal           float64 `json:"profit_goal"`
	MaxPositions         int     `json:"max_positions"`
	LossThresholdPercent float64 `json:"loss_threshold_percent"`
	AccountMode          string  `json:"account_mode"`
	Address              string  `json:"address,omitempty"`
	CredentialRef        string  `json:"credential_ref,omitempty"`
}

// SessionService - бизнес-логика управления сессиями
type SessionService struct {
	store    *session.Store
	cache    StatusReader
	history  HistoryReader
	producer CommandProducer
	creds    CredentialValidator
	log      *utils.Logger
}

// NewSessionService создает сервис сессий
func NewSessionService(store *session.Store, statusCache StatusReader, history HistoryReader, producer CommandProducer, creds CredentialValidator, log *utils.Logger) *SessionService {
	return &SessionService{
		store:    store,
		cache:    statusCache,
		history:  history,
		producer: producer,
		creds:    creds,
		log:      log.WithComponent("session_service"),
	}
}

// CreateSession валидирует запрос и ставит команду запуска.
// Возвращает представление сессии в состоянии starting: фактический
// запуск произойдет когда консьюмер обработает команду.
func (s *SessionService) CreateSession(ctx context.Context, req CreateSessionRequest) (models.SessionView, error) {
	cfg, err := s.buildConfig(req)
	if err != nil {
		return models.SessionView{}, err
	}

	if _, err := s.producer.EnqueueStart(ctx, cfg); err != nil {
		return models.SessionView{}, err
	}

	s.log.Info("session creation enqueued",
		utils.SessionID(cfg.SessionID),
		utils.OwnerID(cfg.OwnerID),
		utils.String("mode", cfg.AccountMode))

	pending := models.SessionStatus{
		SessionID:  cfg.SessionID,
		State:      models.StateStarting,
		LastUpdate: time.Now().UTC(),
	}
	return models.View(cfg, pending), nil
}

// buildConfig валидирует запрос и собирает конфигурацию сессии
func (s *SessionService) buildConfig(req CreateSessionRequest) (models.SessionConfig, error) {
	var cfg models.SessionConfig

	if req.OwnerID == "" {
		return cfg, ErrMissingOwner
	}
	if req.MaxBudget <= 0 {
		return cfg, ErrInvalidBudget
	}
	if req.ProfitGoal <= 0 {
		return cfg, ErrInvalidProfitGoal
	}
	if !utils.InRange(req.MaxPositions, MinPositions, MaxPositions) {
		return cfg, ErrInvalidMaxPositions
	}
	if req.LossThresholdPercent <= 0 || req.LossThresholdPercent > 1 {
		return cfg, ErrInvalidLossThreshold
	}

	switch req.AccountMode {
	case models.AccountModeDriven:
		if req.CredentialRef == "" {
			return cfg, ErrMissingCredential
		}
		if s.creds != nil {
			if err := s.creds.Validate(req.CredentialRef); err != nil {
				return cfg, ErrUnknownCredential
			}
		}
	case models.AccountModeReflective:
		if !utils.IsHexAddress(req.Address) {
			return cfg, ErrMissingAddress
		}
	default:
		return cfg, ErrInvalidAccountMode
	}

	return models.SessionConfig{
		SessionID:            uuid.New().String(),
		OwnerID:              req.OwnerID,
		MaxBudget:            req.MaxBudget,
		ProfitGoal:           req.ProfitGoal,
		MaxPositions:         req.MaxPositions,
		LossThresholdPercent: req.LossThresholdPercent,
		AccountMode:          req.AccountMode,
		Address:              req.Address,
		CredentialRef:        req.CredentialRef,
		CreatedAt:            time.Now().UTC(),
	}, nil
}

// GetSession возвращает представление сессии.
// Порядок чтения: живой стор, кэш статусов, durable история.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (models.SessionView, error) {
	if sess, ok := s.store.Get(sessionID); ok {
		return sess.View(), nil
	}

	if s.cache != nil {
		view, err := s.cache.GetStatus(ctx, sessionID)
		if err == nil {
			return *view, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("status cache read failed",
				utils.SessionID(sessionID), utils.Err(err))
		}
	}

	if s.history != nil {
		view, err := s.history.GetByID(ctx, sessionID)
		if err == nil {
			return *view, nil
		}
		if !errors.Is(err, repository.ErrSessionNotFound) {
			return models.SessionView{}, err
		}
	}

	return models.SessionView{}, ErrSessionNotFound
}

// ListSessions возвращает все живые сессии процесса
func (s *SessionService) ListSessions(ctx context.Context) []models.SessionView {
	return s.store.ListAll()
}

// ListByOwner возвращает сессии владельца: живые из стора,
// завершенные из durable истории
func (s *SessionService) ListByOwner(ctx context.Context, ownerID string) ([]models.SessionView, error) {
	live := s.store.ListByOwner(ownerID)

	seen := make(map[string]struct{}, len(live))
	for _, view := range live {
		seen[view.SessionID] = struct{}{}
	}

	if s.history != nil {
		stored, err := s.history.GetByOwner(ctx, ownerID)
		if err != nil {
			s.log.Warn("history read failed",
				utils.OwnerID(ownerID), utils.Err(err))
			return live, nil
		}
		for _, view := range stored {
			if _, ok := seen[view.SessionID]; !ok {
				live = append(live, view)
			}
		}
	}

	return live, nil
}

// StopSession ставит команду остановки. Сессия должна быть известна
// хотя бы одному из слоев чтения.
func (s *SessionService) StopSession(ctx context.Context, sessionID string, force bool) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}

	if _, err := s.producer.EnqueueStop(ctx, sessionID, force); err != nil {
		return err
	}
	s.log.Info("session stop enqueued",
		utils.SessionID(sessionID), utils.Bool("force", force))
	return nil
}

// UpdatePosition ставит команду ручного изменения позиции.
// Допустимо только для живой driven-сессии в состоянии running.
func (s *SessionService) UpdatePosition(ctx context.Context, sessionID string, change queue.PositionChange) error {
	sess, ok := s.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if !sess.Config().IsDriven() {
		return ErrSessionNotDriven
	}
	if sess.Status().State != models.StateRunning {
		return ErrSessionNotRunning
	}

	if _, err := s.producer.EnqueuePositionChange(ctx, sessionID, change); err != nil {
		return err
	}
	s.log.Info("position change enqueued",
		utils.SessionID(sessionID), utils.String("op", change.Op))
	return nil
}
