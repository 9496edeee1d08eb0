// Package repository - durable слой статусов сессий поверх Postgres.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tradepilot/internal/models"
)

// Ошибки репозитория сессий
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository - работа с таблицей sessions.
// Хранит последний опубликованный статус каждой сессии вместе
// с конфигурацией. Credential ref в таблицу не пишется никогда.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository создает новый экземпляр репозитория
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `session_id, owner_id, state, pnl, open_positions, cycle, error_text,
	max_budget, profit_goal, max_positions, loss_threshold_percent, account_mode, address,
	created_at, last_update`

// Upsert записывает снимок сессии. Повторная запись того же
// session_id обновляет изменяемую часть статуса.
func (r *SessionRepository) Upsert(ctx context.Context, view models.SessionView) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (session_id) DO UPDATE SET
			state = EXCLUDED.state,
			pnl = EXCLUDED.pnl,
			open_positions = EXCLUDED.open_positions,
			cycle = EXCLUDED.cycle,
			error_text = EXCLUDED.error_text,
			last_update = EXCLUDED.last_update`

	_, err := r.db.ExecContext(ctx, query,
		view.SessionID,
		view.Config.OwnerID,
		view.State,
		view.Pnl,
		view.OpenPositions,
		view.Cycle,
		view.Error,
		view.Config.MaxBudget,
		view.Config.ProfitGoal,
		view.Config.MaxPositions,
		view.Config.LossThresholdPercent,
		view.Config.AccountMode,
		view.Config.Address,
		view.Config.CreatedAt,
		view.LastUpdate,
	)
	return err
}

// GetByID возвращает сессию по идентификатору
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*models.SessionView, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE session_id = $1`

	view, err := r.scanOne(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return view, nil
}

// GetByOwner возвращает сессии владельца, новые первыми
func (r *SessionRepository) GetByOwner(ctx context.Context, ownerID string) ([]models.SessionView, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE owner_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListRecent возвращает последние обновленные сессии
func (r *SessionRepository) ListRecent(ctx context.Context, limit int) ([]models.SessionView, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		ORDER BY last_update DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// DeleteOlderThan удаляет терминальные сессии, не обновлявшиеся
// с указанного момента. Возвращает количество удаленных строк.
func (r *SessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE last_update < $1
		  AND state IN ('completed', 'stopped', 'error')`

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count возвращает общее количество сессий в таблице
func (r *SessionRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count)
	return count, err
}

// scanner покрывает sql.Row и sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *SessionRepository) scanOne(row scanner) (*models.SessionView, error) {
	var view models.SessionView
	err := row.Scan(
		&view.SessionStatus.SessionID,
		&view.Config.OwnerID,
		&view.State,
		&view.Pnl,
		&view.OpenPositions,
		&view.Cycle,
		&view.SessionStatus.Error,
		&view.Config.MaxBudget,
		&view.Config.ProfitGoal,
		&view.Config.MaxPositions,
		&view.Config.LossThresholdPercent,
		&view.Config.AccountMode,
		&view.Config.Address,
		&view.Config.CreatedAt,
		&view.LastUpdate,
	)
	if err != nil {
		return nil, err
	}
	view.Config.SessionID = view.SessionStatus.SessionID
	return &view, nil
}

func (r *SessionRepository) scanRows(rows *sql.Rows) ([]models.SessionView, error) {
	var views []models.SessionView
	for rows.Next() {
		view, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, rows.Err()
}
