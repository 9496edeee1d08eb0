package session

import (
	"math/rand"
	"sync"

	"tradepilot/internal/exchange"
	"tradepilot/internal/models"
)

// Типы действий стратегии
const (
	ActionOpen  = "open"
	ActionClose = "close"
)

// Action - одно торговое решение стратегии
type Action struct {
	Type      string
	Open      exchange.OpenRequest // для ActionOpen
	PairIndex int                  // для ActionClose
}

// DecisionInput - снимок состояния сессии, на котором стратегия
// принимает решения. Credential полей не содержит.
type DecisionInput struct {
	Config    models.SessionConfig
	Positions []exchange.Position
	Pnl       float64
	Cycle     int64
}

// Strategy порождает торговые решения driven-сессии.
// Раннер исполняет действия с учётом лимита позиций: решения сверх
// MaxPositions отбрасываются, сами стратегии лимит соблюдать не обязаны.
type Strategy interface {
	Decide(in DecisionInput) []Action
}

// RandomStrategy - референсная стратегия: случайно открывает и
// закрывает позиции. Служит для paper trading и нагрузочных прогонов,
// торговой ценности не имеет.
type RandomStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand

	// OpenChance / CloseChance - вероятности действий за тик (0..1)
	OpenChance  float64
	CloseChance float64

	// Symbols - пул тикеров для открытия
	Symbols []string
}

// NewRandomStrategy создает стратегию с фиксированным seed
func NewRandomStrategy(seed int64) *RandomStrategy {
	return &RandomStrategy{
		rng:         rand.New(rand.NewSource(seed)),
		OpenChance:  0.3,
		CloseChance: 0.2,
		Symbols:     []string{"BTCUSD", "ETHUSD", "SOLUSD"},
	}
}

// Decide случайно открывает или закрывает позиции
func (r *RandomStrategy) Decide(in DecisionInput) []Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	var actions []Action

	if len(in.Positions) < in.Config.MaxPositions && r.rng.Float64() < r.OpenChance {
		// размер позиции - равная доля бюджета на слот
		collateral := in.Config.MaxBudget / float64(in.Config.MaxPositions)
		actions = append(actions, Action{
			Type: ActionOpen,
			Open: exchange.OpenRequest{
				Symbol:     r.Symbols[r.rng.Intn(len(r.Symbols))],
				Collateral: collateral,
				Leverage:   2,
				IsLong:     r.rng.Float64() < 0.5,
			},
		})
	}

	if len(in.Positions) > 0 && r.rng.Float64() < r.CloseChance {
		victim := in.Positions[r.rng.Intn(len(in.Positions))]
		actions = append(actions, Action{Type: ActionClose, PairIndex: victim.PairIndex})
	}

	return actions
}

// NoopStrategy не торгует: сессия только наблюдает за своим аккаунтом
type NoopStrategy struct{}

// Decide всегда возвращает пустой список
func (NoopStrategy) Decide(DecisionInput) []Action { return nil }
