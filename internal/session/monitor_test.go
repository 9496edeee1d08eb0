package session

import (
	"context"
	"testing"
	"time"

	"tradepilot/internal/exchange"
	"tradepilot/internal/models"
)

// alwaysOpenStrategy пытается открыть две позиции каждый тик,
// лимит позиций намеренно игнорирует
type alwaysOpenStrategy struct{}

func (alwaysOpenStrategy) Decide(in DecisionInput) []Action {
	open := Action{Type: ActionOpen, Open: exchange.OpenRequest{
		Symbol:     "BTCUSD",
		Collateral: 10,
		Leverage:   2,
		IsLong:     true,
	}}
	return []Action{open, open}
}

func TestDrivenMonitorEnforcesPositionCap(t *testing.T) {
	venue := exchange.NewSimVenue(1)
	cfg := drivenConfig("sess-1")
	cfg.MaxPositions = 3

	mon := NewDrivenMonitor(venue, alwaysOpenStrategy{}, testLogger())
	ctx := context.Background()

	st := models.SessionStatus{SessionID: cfg.SessionID, State: models.StateRunning}
	for i := 0; i < 10; i++ {
		delta, err := mon.Tick(ctx, cfg, st)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if delta.OpenPositions > cfg.MaxPositions {
			t.Fatalf("tick %d: open positions %d exceeds cap %d",
				i, delta.OpenPositions, cfg.MaxPositions)
		}
		st.Cycle++
	}

	positions, _ := venue.GetPositions(ctx, cfg.CredentialRef)
	if len(positions) != cfg.MaxPositions {
		t.Errorf("venue positions = %d, want %d", len(positions), cfg.MaxPositions)
	}
}

func TestDrivenMonitorEmitsPositionEvents(t *testing.T) {
	venue := exchange.NewSimVenue(1)
	cfg := drivenConfig("sess-1")
	cfg.MaxPositions = 3

	mon := NewDrivenMonitor(venue, alwaysOpenStrategy{}, testLogger())
	st := models.SessionStatus{SessionID: cfg.SessionID, State: models.StateRunning}

	delta, err := mon.Tick(context.Background(), cfg, st)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(delta.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(delta.Events))
	}
	for _, ev := range delta.Events {
		if ev.Type != models.EventTypePositionOpen {
			t.Errorf("event type = %q, want %q", ev.Type, models.EventTypePositionOpen)
		}
		if ev.SessionID != cfg.SessionID {
			t.Errorf("event session = %q, want %q", ev.SessionID, cfg.SessionID)
		}
	}
}

func TestDrivenMonitorShutdownClosesAll(t *testing.T) {
	venue := exchange.NewSimVenue(1)
	cfg := drivenConfig("sess-1")

	venue.SeedPosition(cfg.CredentialRef, exchange.Position{PairIndex: 1, Pnl: 2})
	venue.SeedPosition(cfg.CredentialRef, exchange.Position{PairIndex: 2, Pnl: -1})

	mon := NewDrivenMonitor(venue, NoopStrategy{}, testLogger())
	n, err := mon.Shutdown(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n != 2 {
		t.Errorf("closed = %d, want 2", n)
	}

	positions, _ := venue.GetPositions(context.Background(), cfg.CredentialRef)
	if len(positions) != 0 {
		t.Errorf("positions after shutdown = %d, want 0", len(positions))
	}
}

func TestReflectiveMonitorTick(t *testing.T) {
	venue := exchange.NewSimVenue(1)
	cfg := testConfig("sess-1") // reflective, адрес из testConfig

	venue.SeedPosition(cfg.Address, exchange.Position{PairIndex: 1, Pnl: 4})
	venue.SetRealized(cfg.Address, 3)

	mon := NewReflectiveMonitor(venue, testLogger())
	delta, err := mon.Tick(context.Background(), cfg, models.SessionStatus{})
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if delta.Pnl != 7 || delta.OpenPositions != 1 {
		t.Errorf("delta = %+v, want pnl=7 positions=1", delta)
	}

	// reflective ничего не закрывает
	n, err := mon.Shutdown(context.Background(), cfg)
	if err != nil || n != 0 {
		t.Errorf("Shutdown = (%d, %v), want (0, nil)", n, err)
	}
	positions, _ := venue.GetPositions(context.Background(), cfg.Address)
	if len(positions) != 1 {
		t.Errorf("reflective shutdown touched venue positions: %d", len(positions))
	}
}

// Внешний адрес может держать позиций больше лимита сессии,
// статус сессии ограничивается лимитом
func TestReflectiveMonitorClampsPositionsToCap(t *testing.T) {
	venue := exchange.NewSimVenue(1)
	cfg := testConfig("sess-1")
	cfg.MaxPositions = 2

	for i := 1; i <= 5; i++ {
		venue.SeedPosition(cfg.Address, exchange.Position{PairIndex: i, Pnl: 1})
	}

	mon := NewReflectiveMonitor(venue, testLogger())
	delta, err := mon.Tick(context.Background(), cfg, models.SessionStatus{})
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if delta.OpenPositions != cfg.MaxPositions {
		t.Errorf("open positions = %d, want clamped to %d",
			delta.OpenPositions, cfg.MaxPositions)
	}
}

// Сквозной сценарий: наблюдаемый адрес достигает цели по прибыли
func TestReflectiveSessionCompletesOnProfitGoal(t *testing.T) {
	venue := exchange.NewSimVenue(1)
	cfg := testConfig("sess-1")
	cfg.ProfitGoal = 10

	venue.SetRealized(cfg.Address, 12)

	store, runner := newTestRunner(t, testMonitorConfig())
	sess, _ := store.Create(cfg)
	runner.Launch(sess, NewReflectiveMonitor(venue, testLogger()))

	eventually(t, 2*time.Second, func() bool {
		return sess.Status().State == models.StateCompleted
	}, "reflective session never completed")

	if st := sess.Status(); st.Pnl != 12 {
		t.Errorf("pnl = %v, want 12", st.Pnl)
	}
}
