package events

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()

	broker.Publish(&Event{Type: EventBotCreated, BotID: "bot-1"})

	select {
	case event := <-sub:
		if event.Type != EventBotCreated {
			t.Errorf("Type = %v, want bot.created", event.Type)
		}
		if event.BotID != "bot-1" {
			t.Errorf("BotID = %v, want bot-1", event.BotID)
		}
		if event.Timestamp.IsZero() {
			t.Error("Timestamp was not stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	subA := broker.Subscribe()
	subB := broker.Subscribe()

	if broker.SubscriberCount() != 2 {
		t.Fatalf("SubscriberCount() = %d, want 2", broker.SubscriberCount())
	}

	broker.Publish(&Event{Type: EventWorkerStarted, BotID: "bot-1"})

	for name, sub := range map[string]Subscriber{"subA": subA, "subB": subB} {
		select {
		case event := <-sub:
			if event.BotID != "bot-1" {
				t.Errorf("%s: BotID = %v, want bot-1", name, event.BotID)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s did not receive event", name)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	if broker.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", broker.SubscriberCount())
	}

	select {
	case _, ok := <-sub:
		if ok {
			t.Error("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	slow := broker.Subscribe()
	fast := broker.Subscribe()

	// Saturate the slow subscriber's buffer; events beyond it are dropped
	// rather than stalling delivery to the fast one.
	for i := 0; i < cap(slow)+10; i++ {
		broker.Publish(&Event{Type: EventBotUpdated, BotID: "bot-1"})
	}

	deadline := time.After(2 * time.Second)
	received := 0
	for received < cap(slow) {
		select {
		case <-fast:
			received++
		case <-deadline:
			t.Fatalf("fast subscriber stalled after %d events", received)
		}
	}
}
