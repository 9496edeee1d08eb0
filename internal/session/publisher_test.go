package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tradepilot/internal/models"
)

type fakeSink struct {
	mu      sync.Mutex
	sets    int
	deletes int
	upserts int
	results int
	events  int
	err     error
}

func (f *fakeSink) SetStatus(ctx context.Context, view models.SessionView) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	return f.err
}

func (f *fakeSink) DeleteStatus(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return f.err
}

func (f *fakeSink) Upsert(ctx context.Context, view models.SessionView) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	return f.err
}

func (f *fakeSink) PublishStatus(ctx context.Context, view models.SessionView) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results++
	return f.err
}

func (f *fakeSink) PublishEvent(ctx context.Context, event models.SessionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events++
	return f.err
}

func TestPublisherFansOutToAllSinks(t *testing.T) {
	cache := &fakeSink{}
	store := &fakeSink{}
	results := &fakeSink{}
	pub := NewPublisher(cache, store, results, testLogger())

	sessStore := NewStore()
	sess, _ := sessStore.Create(testConfig("sess-1"))
	sub := &recordingSubscriber{}
	sess.Subscribe(sub)

	pub.Publish(context.Background(), sess, sess.View())

	if cache.sets != 1 || store.upserts != 1 || results.results != 1 {
		t.Errorf("sink calls = cache:%d store:%d results:%d, want 1 each",
			cache.sets, store.upserts, results.results)
	}
	if sub.count() != 1 {
		t.Errorf("subscriber notifications = %d, want 1", sub.count())
	}
}

func TestPublisherSinkFailuresAreIndependent(t *testing.T) {
	cache := &fakeSink{err: errors.New("redis down")}
	store := &fakeSink{}
	results := &fakeSink{}
	pub := NewPublisher(cache, store, results, testLogger())

	sessStore := NewStore()
	sess, _ := sessStore.Create(testConfig("sess-1"))
	sub := &recordingSubscriber{}
	sess.Subscribe(sub)

	// отказ кэша не мешает остальным каналам
	pub.Publish(context.Background(), sess, sess.View())

	if store.upserts != 1 || results.results != 1 || sub.count() != 1 {
		t.Errorf("surviving sinks = store:%d results:%d sub:%d, want 1 each",
			store.upserts, results.results, sub.count())
	}
}

func TestPublisherNilSinks(t *testing.T) {
	pub := NewPublisher(nil, nil, nil, testLogger())
	sessStore := NewStore()
	sess, _ := sessStore.Create(testConfig("sess-1"))

	// ни один nil синк не паникует
	pub.Publish(context.Background(), sess, sess.View())
	pub.Evict(context.Background(), "sess-1")
}

func TestPublisherEvents(t *testing.T) {
	results := &fakeSink{}
	pub := NewPublisher(nil, nil, results, testLogger())

	sessStore := NewStore()
	sess, _ := sessStore.Create(testConfig("sess-1"))
	sub := &recordingSubscriber{}
	sess.Subscribe(sub)

	pub.PublishEvents(context.Background(), sess, []models.SessionEvent{
		{SessionID: "sess-1", Type: models.EventTypePositionOpen},
		{SessionID: "sess-1", Type: models.EventTypePositionClose},
	})
	if results.events != 2 {
		t.Errorf("event publishes = %d, want 2", results.events)
	}
	if sub.eventCount() != 2 {
		t.Errorf("subscriber events = %d, want 2", sub.eventCount())
	}

	// nil синк, nil сессия и пустой список не паникуют
	NewPublisher(nil, nil, nil, testLogger()).PublishEvents(context.Background(), nil, nil)
}

func TestPublisherEvict(t *testing.T) {
	cache := &fakeSink{}
	pub := NewPublisher(cache, nil, nil, testLogger())

	pub.Evict(context.Background(), "sess-1")
	if cache.deletes != 1 {
		t.Errorf("cache deletes = %d, want 1", cache.deletes)
	}
}
