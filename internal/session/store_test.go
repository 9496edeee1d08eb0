package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"tradepilot/internal/models"
)

func testConfig(id string) models.SessionConfig {
	return models.SessionConfig{
		SessionID:            id,
		OwnerID:              "owner-1",
		MaxBudget:            100,
		ProfitGoal:           10,
		MaxPositions:         3,
		LossThresholdPercent: 0.5,
		AccountMode:          models.AccountModeReflective,
		Address:              "0xabcdef0123456789abcdef0123456789abcdef01",
	}
}

type recordingSubscriber struct {
	mu     sync.Mutex
	views  []models.SessionView
	events []models.SessionEvent
}

func (r *recordingSubscriber) Notify(view models.SessionView) {
	r.mu.Lock()
	r.views = append(r.views, view)
	r.mu.Unlock()
}

func (r *recordingSubscriber) NotifyEvent(event models.SessionEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *recordingSubscriber) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestStoreCreate(t *testing.T) {
	store := NewStore()

	sess, err := store.Create(testConfig("sess-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if st := sess.Status(); st.State != models.StateStarting {
		t.Errorf("initial state = %q, want starting", st.State)
	}

	if _, err := store.Create(testConfig("sess-1")); !errors.Is(err, ErrSessionExists) {
		t.Errorf("duplicate create: %v, want ErrSessionExists", err)
	}
	if store.Count() != 1 {
		t.Errorf("count = %d, want 1", store.Count())
	}
}

func TestStoreSubscribeReturnsCurrentView(t *testing.T) {
	store := NewStore()
	sess, _ := store.Create(testConfig("sess-1"))
	sess.Mutate(func(s *models.SessionStatus) {
		s.State = models.StateRunning
		s.Pnl = 7.5
	})

	sub := &recordingSubscriber{}
	view, err := store.Subscribe("sess-1", sub)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if view.Pnl != 7.5 || view.State != models.StateRunning {
		t.Errorf("subscribe view = %+v, want running pnl=7.5", view.SessionStatus)
	}

	if _, err := store.Subscribe("missing", sub); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("subscribe to missing session: %v, want ErrSessionNotFound", err)
	}
}

func TestStoreNotifySubscribers(t *testing.T) {
	store := NewStore()
	sess, _ := store.Create(testConfig("sess-1"))

	first := &recordingSubscriber{}
	second := &recordingSubscriber{}
	store.Subscribe("sess-1", first)
	store.Subscribe("sess-1", second)

	sess.NotifySubscribers(sess.View())
	if first.count() != 1 || second.count() != 1 {
		t.Errorf("notify counts = %d, %d, want 1, 1", first.count(), second.count())
	}

	store.Unsubscribe("sess-1", first)
	sess.NotifySubscribers(sess.View())
	if first.count() != 1 {
		t.Errorf("unsubscribed subscriber still notified: %d", first.count())
	}
	if second.count() != 2 {
		t.Errorf("second subscriber count = %d, want 2", second.count())
	}
}

func TestStoreUnsubscribeAll(t *testing.T) {
	store := NewStore()
	sub := &recordingSubscriber{}
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("sess-%d", i)
		store.Create(testConfig(id))
		store.Subscribe(id, sub)
	}

	store.UnsubscribeAll(sub)
	for i := 0; i < 3; i++ {
		sess, _ := store.Get(fmt.Sprintf("sess-%d", i))
		if sess.SubscriberCount() != 0 {
			t.Errorf("session %d still has subscribers", i)
		}
	}

	// отписка от вытесненной сессии не паникует
	store.Remove("sess-0")
	store.Unsubscribe("sess-0", sub)
}

func TestSessionTransition(t *testing.T) {
	store := NewStore()
	sess, _ := store.Create(testConfig("sess-1"))

	st, err := sess.Transition(models.StateRunning)
	if err != nil {
		t.Fatalf("Transition to running: %v", err)
	}
	if st.State != models.StateRunning {
		t.Errorf("state = %q, want running", st.State)
	}

	if _, err := sess.Transition(models.StateStarting); !errors.Is(err, ErrInvalidState) {
		t.Errorf("backward transition: %v, want ErrInvalidState", err)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore()
	sess, _ := store.Create(testConfig("sess-1"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sess.Mutate(func(s *models.SessionStatus) { s.Cycle++ })
				store.ListAll()
				store.ListByOwner("owner-1")
			}
		}()
	}
	wg.Wait()

	if st := sess.Status(); st.Cycle != 800 {
		t.Errorf("cycle = %d, want 800", st.Cycle)
	}
}
