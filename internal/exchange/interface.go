// Package exchange предоставляет унифицированный интерфейс к торговой площадке.
package exchange

import (
	"context"
	"errors"
	"fmt"
)

// Ошибки уровня площадки
var (
	// ErrPositionNotFound - позиция с указанным pairIndex не существует
	ErrPositionNotFound = errors.New("position not found")

	// ErrInsufficientMargin - недостаточно обеспечения для открытия позиции
	ErrInsufficientMargin = errors.New("insufficient margin")

	// ErrVenueUnavailable - площадка недоступна (сеть, 5xx, таймаут)
	ErrVenueUnavailable = errors.New("venue unavailable")

	// ErrUnknownCredential - credential ref не разрешается в подписывающий ключ
	ErrUnknownCredential = errors.New("unknown credential")
)

// Position представляет открытую позицию на площадке
type Position struct {
	PairIndex  int     `json:"pair_index"` // идентификатор позиции внутри аккаунта
	Symbol     string  `json:"symbol"`
	IsLong     bool    `json:"is_long"`
	Collateral float64 `json:"collateral"` // обеспечение в USDT
	Leverage   int     `json:"leverage"`
	EntryPrice float64 `json:"entry_price"`
	Pnl        float64 `json:"pnl"` // нереализованный PNL в USDT
}

// OpenRequest описывает параметры открытия позиции
type OpenRequest struct {
	Symbol     string  `json:"symbol"`
	Collateral float64 `json:"collateral"`
	Leverage   int     `json:"leverage"`
	IsLong     bool    `json:"is_long"`
	TakeProfit float64 `json:"take_profit,omitempty"` // цена, 0 = не задан
	StopLoss   float64 `json:"stop_loss,omitempty"`   // цена, 0 = не задан
}

// Executor выполняет торговые операции от имени driven-аккаунта.
// Контекст несёт per-call таймаут мониторинга.
type Executor interface {
	// OpenPosition открывает позицию, возвращает присвоенный pairIndex
	OpenPosition(ctx context.Context, credentialRef string, req OpenRequest) (int, error)

	// ClosePosition закрывает конкретную позицию
	ClosePosition(ctx context.Context, credentialRef string, pairIndex int) error

	// CloseAllPositions закрывает все открытые позиции аккаунта.
	// Возвращает количество закрытых позиций.
	CloseAllPositions(ctx context.Context, credentialRef string) (int, error)
}

// Reader читает состояние аккаунта по публичному адресу.
// Используется reflective-мониторингом, подписи не требует.
type Reader interface {
	// GetPositions возвращает открытые позиции адреса
	GetPositions(ctx context.Context, address string) ([]Position, error)

	// GetTotalPnl возвращает суммарный PNL адреса в USDT
	GetTotalPnl(ctx context.Context, address string) (float64, error)
}

// Venue объединяет исполнение и чтение. Конкретные реализации:
// SimVenue (встроенный симулятор) и GatewayClient (HTTP).
type Venue interface {
	Executor
	Reader
}

// VenueError оборачивает ошибку площадки с контекстом операции
type VenueError struct {
	Venue string // sim, gateway
	Op    string // open, close, close_all, positions, pnl
	Err   error
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue %s: %s: %v", e.Venue, e.Op, e.Err)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}

// wrapErr упаковывает ошибку в VenueError
func wrapErr(venue, op string, err error) error {
	if err == nil {
		return nil
	}
	return &VenueError{Venue: venue, Op: op, Err: err}
}
