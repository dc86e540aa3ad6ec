package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Publish(Event{Kind: "chat.message_received", Timestamp: time.Now(), Payload: "hello"})

	select {
	case evt := <-ch:
		if evt.Kind != "chat.message_received" {
			t.Errorf("got kind %q, want chat.message_received", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Publish(Event{Kind: "chat.message_received"})
	b.Publish(Event{Kind: "conn.online"})

	select {
	case evt := <-ch:
		if evt.Kind != "conn.online" {
			t.Errorf("got kind %q, want conn.online", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The chat event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	unsub()

	b.Publish(Event{Kind: "chat.message_received"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 1)
	defer unsub()

	b.Publish(Event{Kind: "chat.one"})
	b.Publish(Event{Kind: "chat.two"}) // dropped, buffer full

	evt := <-ch
	if evt.Kind != "chat.one" {
		t.Errorf("got %q, want chat.one", evt.Kind)
	}
}
