package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
)

func newTestEvent(typ domain.EventType) domain.ExecutionEvent {
	return domain.ExecutionEvent{
		ExecutionID: uuid.New(),
		JobID:       uuid.New(),
		Type:        typ,
		Timestamp:   time.Now().UTC(),
	}
}

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker(10)

	var mu sync.Mutex
	var first, second []domain.ExecutionEvent

	b.Subscribe(func(e domain.ExecutionEvent) {
		mu.Lock()
		first = append(first, e)
		mu.Unlock()
	})
	b.Subscribe(func(e domain.ExecutionEvent) {
		mu.Lock()
		second = append(second, e)
		mu.Unlock()
	})

	event := newTestEvent(domain.EventJobStarted)
	b.Publish(event)

	mu.Lock()
	defer mu.Unlock()
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("fan-out counts = %d, %d, want 1, 1", len(first), len(second))
	}
	if first[0].ExecutionID != event.ExecutionID {
		t.Errorf("ExecutionID = %v, want %v", first[0].ExecutionID, event.ExecutionID)
	}
}

func TestBroker_PanickingSubscriberIsolated(t *testing.T) {
	b := NewBroker(10)

	b.Subscribe(func(e domain.ExecutionEvent) {
		panic("subscriber blew up")
	})

	received := 0
	b.Subscribe(func(e domain.ExecutionEvent) {
		received++
	})

	b.Publish(newTestEvent(domain.EventJobCompleted))

	if received != 1 {
		t.Errorf("healthy subscriber received %d events, want 1", received)
	}
}

func TestBroker_LateSubscriberMissesEarlierEvents(t *testing.T) {
	b := NewBroker(10)

	b.Publish(newTestEvent(domain.EventJobStarted))

	received := 0
	b.Subscribe(func(e domain.ExecutionEvent) {
		received++
	})

	b.Publish(newTestEvent(domain.EventJobCompleted))

	if received != 1 {
		t.Errorf("late subscriber received %d events, want 1", received)
	}
}

func TestBroker_TapReceivesEvents(t *testing.T) {
	b := NewBroker(2)

	event := newTestEvent(domain.EventImportProgress)
	b.Publish(event)

	select {
	case got := <-b.Tap():
		if got.Type != domain.EventImportProgress {
			t.Errorf("Type = %s, want %s", got.Type, domain.EventImportProgress)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event on tap")
	}
}

func TestBroker_FullTapDoesNotBlockPublish(t *testing.T) {
	b := NewBroker(1)

	b.Publish(newTestEvent(domain.EventJobStarted))

	done := make(chan struct{})
	go func() {
		// Tap is full; publish must not block.
		b.Publish(newTestEvent(domain.EventJobCompleted))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on full tap")
	}
}
