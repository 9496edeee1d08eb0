package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tradepilot/internal/config"
	"tradepilot/internal/models"
	"tradepilot/pkg/utils"
)

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "fatal"})
}

func drivenConfig(id string) models.SessionConfig {
	cfg := testConfig(id)
	cfg.AccountMode = models.AccountModeDriven
	cfg.Address = ""
	cfg.CredentialRef = "cred-1"
	return cfg
}

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		TickInterval:      20 * time.Millisecond,
		CallTimeout:       time.Second,
		GracePeriod:       time.Hour, // тесты вытеснения задают свой
		CloseRetries:      1,
		CloseRetryBackoff: time.Millisecond,
	}
}

func newTestRunner(t *testing.T, cfg config.MonitorConfig) (*Store, *Runner) {
	t.Helper()
	store := NewStore()
	pub := NewPublisher(nil, nil, nil, testLogger())
	runner := NewRunner(store, pub, cfg, testLogger())
	t.Cleanup(runner.Shutdown)
	return store, runner
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// tickResult - сценарий одного тика фейкового мониторинга
type tickResult struct {
	delta StatusDelta
	err   error
}

// fakeMonitor проигрывает сценарий тиков; последний элемент повторяется
type fakeMonitor struct {
	mu     sync.Mutex
	script []tickResult

	ticks       int
	shutdowns   int
	shutdownN   int
	shutdownErr error
}

func (f *fakeMonitor) Tick(ctx context.Context, cfg models.SessionConfig, st models.SessionStatus) (StatusDelta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.ticks
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.ticks++
	return f.script[i].delta, f.script[i].err
}

func (f *fakeMonitor) Shutdown(ctx context.Context, cfg models.SessionConfig) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return f.shutdownN, f.shutdownErr
}

func (f *fakeMonitor) tickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks
}

func (f *fakeMonitor) shutdownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

func TestRunnerProfitGoalCompletes(t *testing.T) {
	store, runner := newTestRunner(t, testMonitorConfig())
	sess, _ := store.Create(testConfig("sess-1")) // profit goal 10

	mon := &fakeMonitor{script: []tickResult{
		{delta: StatusDelta{Pnl: 12, OpenPositions: 1}},
	}}
	runner.Launch(sess, mon)

	eventually(t, 2*time.Second, func() bool {
		return sess.Status().State == models.StateCompleted
	}, "session never completed")

	st := sess.Status()
	if st.Pnl != 12 {
		t.Errorf("pnl = %v, want 12", st.Pnl)
	}
	if st.Cycle != 1 {
		t.Errorf("cycle = %d, want 1: goal must terminate within the crossing tick", st.Cycle)
	}

	// терминальная сессия больше не тикает
	ticksAtTerminal := mon.tickCount()
	time.Sleep(100 * time.Millisecond)
	if got := mon.tickCount(); got != ticksAtTerminal {
		t.Errorf("ticks after terminal: %d -> %d", ticksAtTerminal, got)
	}
}

func TestRunnerLossLimitStopsAndClosesPositions(t *testing.T) {
	store, runner := newTestRunner(t, testMonitorConfig())
	// бюджет 100, порог 0.5: лимит убытка -50
	sess, _ := store.Create(drivenConfig("sess-1"))

	mon := &fakeMonitor{
		script:    []tickResult{{delta: StatusDelta{Pnl: -60, OpenPositions: 2}}},
		shutdownN: 2,
	}
	runner.Launch(sess, mon)

	eventually(t, 2*time.Second, func() bool {
		return sess.Status().State == models.StateStopped
	}, "session never stopped on loss limit")

	if mon.shutdownCount() == 0 {
		t.Error("loss limit on driven session must close all positions")
	}
	if st := sess.Status(); st.OpenPositions != 0 {
		t.Errorf("open positions after close-all = %d, want 0", st.OpenPositions)
	}
}

func TestRunnerProfitGoalBeatsLossLimit(t *testing.T) {
	store, runner := newTestRunner(t, testMonitorConfig())
	cfg := drivenConfig("sess-1")
	cfg.ProfitGoal = 10
	// лимит убытка положительный не бывает, но при равенстве pnl цели
	// и формально выполненном пороге побеждает цель по прибыли
	cfg.MaxBudget = 10
	cfg.LossThresholdPercent = 1 // лимит -10
	sess, _ := store.Create(cfg)

	mon := &fakeMonitor{script: []tickResult{
		{delta: StatusDelta{Pnl: 10}},
	}}
	runner.Launch(sess, mon)

	eventually(t, 2*time.Second, func() bool {
		return models.IsTerminal(sess.Status().State)
	}, "session never terminated")

	if st := sess.Status(); st.State != models.StateCompleted {
		t.Errorf("state = %q, want completed: profit goal checked first", st.State)
	}
	if mon.shutdownCount() != 0 {
		t.Error("completed session must not trigger close-all")
	}
}

func TestRunnerTransientErrorRetainsValues(t *testing.T) {
	store, runner := newTestRunner(t, testMonitorConfig())
	sess, _ := store.Create(testConfig("sess-1"))

	mon := &fakeMonitor{script: []tickResult{
		{err: context.DeadlineExceeded},
		{delta: StatusDelta{Pnl: 3, OpenPositions: 1}},
	}}
	runner.Launch(sess, mon)

	eventually(t, 2*time.Second, func() bool { return mon.tickCount() >= 1 }, "no first tick")

	// неудачный тик не двигает ни cycle, ни состояние
	if st := sess.Status(); st.Cycle != 0 || st.State != models.StateStarting {
		t.Errorf("status after failed tick = %+v, want starting cycle=0", st)
	}

	eventually(t, 2*time.Second, func() bool {
		return sess.Status().State == models.StateRunning
	}, "session never recovered to running")

	if st := sess.Status(); st.Pnl != 3 || st.Cycle != 1 {
		t.Errorf("status after recovery = %+v, want pnl=3 cycle=1", st)
	}
}

func TestRunnerStopCommand(t *testing.T) {
	store, runner := newTestRunner(t, testMonitorConfig())
	sess, _ := store.Create(drivenConfig("sess-1"))

	mon := &fakeMonitor{script: []tickResult{
		{delta: StatusDelta{Pnl: 1, OpenPositions: 1}},
	}}
	runner.Launch(sess, mon)

	eventually(t, 2*time.Second, func() bool {
		return sess.Status().State == models.StateRunning
	}, "session never started running")

	if !runner.Stop("sess-1", false) {
		t.Fatal("Stop returned false for a running session")
	}

	eventually(t, 2*time.Second, func() bool {
		return sess.Status().State == models.StateStopped
	}, "session never stopped")

	if mon.shutdownCount() != 1 {
		t.Errorf("shutdowns = %d, want 1", mon.shutdownCount())
	}

	// остановка уже остановленной сессии - no-op
	if runner.Stop("sess-1", false) {
		eventually(t, time.Second, func() bool { return !runner.IsRunning("sess-1") },
			"runtime never cleaned up")
	}
}

func TestRunnerStopCloseFailure(t *testing.T) {
	t.Run("without force goes to error", func(t *testing.T) {
		store, runner := newTestRunner(t, testMonitorConfig())
		sess, _ := store.Create(drivenConfig("sess-1"))

		mon := &fakeMonitor{
			script:      []tickResult{{delta: StatusDelta{Pnl: 1, OpenPositions: 1}}},
			shutdownErr: context.DeadlineExceeded,
		}
		runner.Launch(sess, mon)
		eventually(t, 2*time.Second, func() bool {
			return sess.Status().State == models.StateRunning
		}, "session never started running")

		runner.Stop("sess-1", false)
		eventually(t, 2*time.Second, func() bool {
			return sess.Status().State == models.StateError
		}, "failed stop must move session to error")

		if st := sess.Status(); !strings.Contains(st.Error, "positions remain open") {
			t.Errorf("error text = %q", st.Error)
		}
	})

	t.Run("force stops anyway", func(t *testing.T) {
		store, runner := newTestRunner(t, testMonitorConfig())
		sess, _ := store.Create(drivenConfig("sess-1"))

		mon := &fakeMonitor{
			script:      []tickResult{{delta: StatusDelta{Pnl: 1, OpenPositions: 1}}},
			shutdownErr: context.DeadlineExceeded,
		}
		runner.Launch(sess, mon)
		eventually(t, 2*time.Second, func() bool {
			return sess.Status().State == models.StateRunning
		}, "session never started running")

		runner.Stop("sess-1", true)
		eventually(t, 2*time.Second, func() bool {
			return sess.Status().State == models.StateStopped
		}, "force stop must stop the session")
	})
}

func TestRunnerGraceEviction(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.GracePeriod = 30 * time.Millisecond
	store, runner := newTestRunner(t, cfg)
	sess, _ := store.Create(testConfig("sess-1"))

	mon := &fakeMonitor{script: []tickResult{
		{delta: StatusDelta{Pnl: 12}},
	}}
	runner.Launch(sess, mon)

	eventually(t, 2*time.Second, func() bool {
		return sess.Status().State == models.StateCompleted
	}, "session never completed")

	// внутри grace-периода сессия еще читается
	if _, ok := store.Get("sess-1"); !ok {
		t.Error("session evicted before grace period")
	}

	eventually(t, 2*time.Second, func() bool {
		_, ok := store.Get("sess-1")
		return !ok
	}, "terminal session never evicted")
}

func TestRunnerPanicMovesToError(t *testing.T) {
	store, runner := newTestRunner(t, testMonitorConfig())
	sess, _ := store.Create(testConfig("sess-1"))

	runner.Launch(sess, panicMonitor{})

	eventually(t, 2*time.Second, func() bool {
		return sess.Status().State == models.StateError
	}, "panic must move session to error")

	if st := sess.Status(); !strings.Contains(st.Error, "panic") {
		t.Errorf("error text = %q, want panic mention", st.Error)
	}
}

type panicMonitor struct{}

func (panicMonitor) Tick(context.Context, models.SessionConfig, models.SessionStatus) (StatusDelta, error) {
	panic("boom")
}

func (panicMonitor) Shutdown(context.Context, models.SessionConfig) (int, error) {
	return 0, nil
}

func TestRunnerLaunchIdempotent(t *testing.T) {
	store, runner := newTestRunner(t, testMonitorConfig())
	sess, _ := store.Create(testConfig("sess-1"))

	mon := &fakeMonitor{script: []tickResult{
		{delta: StatusDelta{Pnl: 0}},
	}}
	runner.Launch(sess, mon)
	runner.Launch(sess, mon) // повторный запуск игнорируется

	eventually(t, 2*time.Second, func() bool {
		return sess.Status().State == models.StateRunning
	}, "session never started running")

	time.Sleep(60 * time.Millisecond)
	runner.Shutdown()

	st := sess.Status()
	if int64(mon.tickCount()) != st.Cycle {
		t.Errorf("ticks = %d, cycle = %d: second goroutine would double-tick",
			mon.tickCount(), st.Cycle)
	}
}
