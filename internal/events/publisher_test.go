package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tOgg1/hostdeck/internal/models"
)

func TestFilter_Matches(t *testing.T) {
	online := &models.Event{
		Type:       models.EventTypeServerOnline,
		EntityType: models.EntityTypeServer,
		EntityID:   "srv-1",
	}

	tests := []struct {
		name   string
		filter Filter
		event  *models.Event
		want   bool
	}{
		{name: "empty filter matches any event", filter: Filter{}, event: online, want: true},
		{name: "nil event returns false", filter: Filter{}, event: nil, want: false},
		{
			name:   "event type filter matches",
			filter: Filter{EventTypes: []models.EventType{models.EventTypeServerOnline}},
			event:  online,
			want:   true,
		},
		{
			name:   "event type filter rejects non-matching",
			filter: Filter{EventTypes: []models.EventType{models.EventTypeServerOffline}},
			event:  online,
			want:   false,
		},
		{
			name: "multiple event types - matches any",
			filter: Filter{EventTypes: []models.EventType{
				models.EventTypeServerOffline,
				models.EventTypeServerOnline,
			}},
			event: online,
			want:  true,
		},
		{
			name:   "entity type filter rejects",
			filter: Filter{EntityTypes: []models.EntityType{models.EntityTypeSession}},
			event:  online,
			want:   false,
		},
		{
			name:   "entity id filter matches",
			filter: Filter{EntityID: "srv-1"},
			event:  online,
			want:   true,
		},
		{
			name:   "entity id filter rejects",
			filter: Filter{EntityID: "srv-2"},
			event:  online,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInMemoryPublisher_Subscribe(t *testing.T) {
	pub := NewInMemoryPublisher()
	handler := func(event *models.Event) {}

	if err := pub.Subscribe("sub-1", Filter{}, handler); err != nil {
		t.Fatalf("Subscribe() error = %v, want nil", err)
	}
	if pub.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", pub.SubscriberCount())
	}
	if err := pub.Subscribe("sub-1", Filter{}, handler); err != ErrSubscriptionExists {
		t.Errorf("duplicate error = %v, want %v", err, ErrSubscriptionExists)
	}
	if err := pub.Subscribe("", Filter{}, handler); err != ErrInvalidSubscriptionID {
		t.Errorf("empty ID error = %v, want %v", err, ErrInvalidSubscriptionID)
	}
	if err := pub.Subscribe("sub-2", Filter{}, nil); err != ErrNilHandler {
		t.Errorf("nil handler error = %v, want %v", err, ErrNilHandler)
	}

	if err := pub.Unsubscribe("sub-1"); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if err := pub.Unsubscribe("sub-1"); err != ErrSubscriptionNotFound {
		t.Errorf("second Unsubscribe() error = %v, want %v", err, ErrSubscriptionNotFound)
	}
}

func TestInMemoryPublisher_PublishStampsEvent(t *testing.T) {
	pub := NewInMemoryPublisher()

	var got *models.Event
	_ = pub.Subscribe("sub-1", Filter{}, func(event *models.Event) { got = event })

	pub.Publish(context.Background(), New(models.EventTypeSessionOpened, models.EntityTypeSession, "srv-1", nil))

	if got == nil {
		t.Fatal("handler not called")
	}
	if got.ID == "" || got.Timestamp.IsZero() {
		t.Fatalf("expected ID and Timestamp to be stamped, got %+v", got)
	}
}

func TestInMemoryPublisher_PublishWithFilter(t *testing.T) {
	pub := NewInMemoryPublisher()
	ctx := context.Background()

	var serverEvents, sessionEvents int
	_ = pub.Subscribe("server-sub", Filter{
		EntityTypes: []models.EntityType{models.EntityTypeServer},
	}, func(event *models.Event) { serverEvents++ })
	_ = pub.Subscribe("session-sub", Filter{
		EntityTypes: []models.EntityType{models.EntityTypeSession},
	}, func(event *models.Event) { sessionEvents++ })

	pub.Publish(ctx, New(models.EventTypeServerAdded, models.EntityTypeServer, "srv-1", nil))
	pub.Publish(ctx, New(models.EventTypeSessionClosed, models.EntityTypeSession, "srv-1", nil))
	pub.Publish(ctx, nil)

	if serverEvents != 1 || sessionEvents != 1 {
		t.Errorf("serverEvents = %d, sessionEvents = %d, want 1 and 1", serverEvents, sessionEvents)
	}
}

func TestInMemoryPublisher_SubscribeChan(t *testing.T) {
	pub := NewInMemoryPublisher()
	ctx := context.Background()

	ch, cancel, err := pub.SubscribeChan("ws-1", Filter{EventTypes: []models.EventType{models.EventTypeStatusProbed}}, 1)
	if err != nil {
		t.Fatalf("SubscribeChan() error = %v", err)
	}

	pub.Publish(ctx, New(models.EventTypeStatusProbed, models.EntityTypeServer, "a", nil))
	// Buffer full: dropped, not blocking.
	pub.Publish(ctx, New(models.EventTypeStatusProbed, models.EntityTypeServer, "b", nil))

	event := <-ch
	if event.EntityID != "a" {
		t.Fatalf("got %q, want a", event.EntityID)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after cancel")
	}
	if pub.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d after cancel", pub.SubscriberCount())
	}

	// Publishing after cancel must not panic on the closed channel.
	pub.Publish(ctx, New(models.EventTypeStatusProbed, models.EntityTypeServer, "c", nil))
}

func TestNewEncodesPayload(t *testing.T) {
	event := New(models.EventTypeBatchExecuted, models.EntityTypeBatch, "b-1", models.CommandExecutedPayload{
		Command:   "uptime",
		Hosts:     3,
		Succeeded: 2,
	})

	var payload models.CommandExecutedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Hosts != 3 || payload.Succeeded != 2 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestEmitNilPublisher(t *testing.T) {
	Emit(context.Background(), nil, New(models.EventTypeWarning, models.EntityTypeSystem, "", nil))
}

func TestInMemoryPublisher_ConcurrentAccess(t *testing.T) {
	pub := NewInMemoryPublisher()
	ctx := context.Background()

	var wg sync.WaitGroup
	var count int64

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			subID := "sub-" + string(rune('a'+id))
			_ = pub.Subscribe(subID, Filter{}, func(event *models.Event) {
				atomic.AddInt64(&count, 1)
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Publish(ctx, New(models.EventTypeStatusProbed, models.EntityTypeServer, "srv-1", nil))
		}()
	}
	wg.Wait()

	if got, want := atomic.LoadInt64(&count), int64(10*100); got != want {
		t.Errorf("count = %d, want %d", got, want)
	}
}

type mockRepository struct {
	mu     sync.Mutex
	events []*models.Event
}

func (m *mockRepository) Create(ctx context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func TestInMemoryPublisher_WithRepository(t *testing.T) {
	repo := &mockRepository{}
	pub := NewInMemoryPublisher(WithRepository(repo))

	pub.Publish(context.Background(), &models.Event{
		ID:         "event-1",
		Type:       models.EventTypeServerRemoved,
		EntityType: models.EntityTypeServer,
		EntityID:   "srv-1",
	})

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.events) != 1 || repo.events[0].ID != "event-1" {
		t.Errorf("repo.events = %+v", repo.events)
	}
}
