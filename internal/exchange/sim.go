package exchange

import (
	"context"
	"math/rand"
	"sync"
)

// SimVenue - встроенный симулятор площадки для paper trading и тестов.
// Детерминирован при фиксированном seed. Аккаунты создаются лениво,
// ключом служит credential ref (driven) либо публичный адрес (reflective).
type SimVenue struct {
	mu       sync.Mutex
	accounts map[string]*simAccount
	rng      *rand.Rand

	// PnlStep - амплитуда случайного дрейфа PNL позиции за один Advance
	PnlStep float64
}

type simAccount struct {
	positions map[int]*Position
	nextIndex int
	realized  float64
}

// NewSimVenue создает симулятор с заданным seed
func NewSimVenue(seed int64) *SimVenue {
	return &SimVenue{
		accounts: make(map[string]*simAccount),
		rng:      rand.New(rand.NewSource(seed)),
		PnlStep:  5.0,
	}
}

func (s *SimVenue) account(key string) *simAccount {
	acc, ok := s.accounts[key]
	if !ok {
		acc = &simAccount{positions: make(map[int]*Position), nextIndex: 1}
		s.accounts[key] = acc
	}
	return acc
}

// OpenPosition открывает позицию в аккаунте credentialRef
func (s *SimVenue) OpenPosition(ctx context.Context, credentialRef string, req OpenRequest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr("sim", "open", err)
	}
	if req.Collateral <= 0 {
		return 0, wrapErr("sim", "open", ErrInsufficientMargin)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(credentialRef)
	idx := acc.nextIndex
	acc.nextIndex++

	acc.positions[idx] = &Position{
		PairIndex:  idx,
		Symbol:     req.Symbol,
		IsLong:     req.IsLong,
		Collateral: req.Collateral,
		Leverage:   req.Leverage,
		EntryPrice: 100 + s.rng.Float64()*900,
		Pnl:        0,
	}
	return idx, nil
}

// ClosePosition закрывает позицию, нереализованный PNL фиксируется
func (s *SimVenue) ClosePosition(ctx context.Context, credentialRef string, pairIndex int) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("sim", "close", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(credentialRef)
	pos, ok := acc.positions[pairIndex]
	if !ok {
		return wrapErr("sim", "close", ErrPositionNotFound)
	}
	acc.realized += pos.Pnl
	delete(acc.positions, pairIndex)
	return nil
}

// CloseAllPositions закрывает все позиции аккаунта
func (s *SimVenue) CloseAllPositions(ctx context.Context, credentialRef string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr("sim", "close_all", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(credentialRef)
	n := len(acc.positions)
	for idx, pos := range acc.positions {
		acc.realized += pos.Pnl
		delete(acc.positions, idx)
	}
	return n, nil
}

// GetPositions возвращает копии открытых позиций аккаунта
func (s *SimVenue) GetPositions(ctx context.Context, address string) ([]Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("sim", "positions", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(address)
	out := make([]Position, 0, len(acc.positions))
	for _, pos := range acc.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// GetTotalPnl возвращает реализованный + нереализованный PNL аккаунта
func (s *SimVenue) GetTotalPnl(ctx context.Context, address string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr("sim", "pnl", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(address)
	total := acc.realized
	for _, pos := range acc.positions {
		total += pos.Pnl
	}
	return total, nil
}

// Advance сдвигает нереализованный PNL всех позиций случайным шагом.
// Имитирует движение рынка между тиками мониторинга.
func (s *SimVenue) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		for _, pos := range acc.positions {
			pos.Pnl += (s.rng.Float64()*2 - 1) * s.PnlStep
		}
	}
}

// ============================================================
// Хелперы для тестов и детерминированных сценариев
// ============================================================

// SeedPosition кладет позицию с заданным PNL напрямую в аккаунт
func (s *SimVenue) SeedPosition(key string, pos Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(key)
	if pos.PairIndex == 0 {
		pos.PairIndex = acc.nextIndex
	}
	if pos.PairIndex >= acc.nextIndex {
		acc.nextIndex = pos.PairIndex + 1
	}
	p := pos
	acc.positions[pos.PairIndex] = &p
}

// SetRealized выставляет реализованный PNL аккаунта
func (s *SimVenue) SetRealized(key string, pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account(key).realized = pnl
}

// SetPositionPnl выставляет нереализованный PNL конкретной позиции
func (s *SimVenue) SetPositionPnl(key string, pairIndex int, pnl float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.account(key).positions[pairIndex]
	if !ok {
		return false
	}
	pos.Pnl = pnl
	return true
}
