package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe("")
	ch2 := b.Subscribe("alice/blog")

	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}
	if _, open := <-ch1; open {
		t.Error("unsubscribed channel should be closed")
	}

	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: EventReset, App: "alice/blog", Cursor: "c1", Nodes: 3})

	select {
	case received := <-ch:
		if received.Type != EventReset || received.App != "alice/blog" {
			t.Errorf("unexpected event %+v", received)
		}
		if received.Timestamp == 0 {
			t.Error("expected non-zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterFiltersByApp(t *testing.T) {
	b := NewBroadcaster()
	all := b.Subscribe("")
	blog := b.Subscribe("alice/blog")
	defer b.Unsubscribe(all)
	defer b.Unsubscribe(blog)

	if d, _ := b.Publish(Event{Type: EventRefresh, App: "bob/shop"}); d != 1 {
		t.Errorf("bob/shop delivered to %d subscribers, want 1", d)
	}
	if d, _ := b.Publish(Event{Type: EventRefresh, App: "alice/blog"}); d != 2 {
		t.Errorf("alice/blog delivered to %d subscribers, want 2", d)
	}

	if len(all) != 2 {
		t.Errorf("unfiltered subscriber got %d events, want 2", len(all))
	}
	if len(blog) != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", len(blog))
	}
	if e := <-blog; e.App != "alice/blog" {
		t.Errorf("filtered subscriber got %q", e.App)
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	var delivered, dropped int
	for i := 0; i < 100; i++ {
		d, x := b.Publish(Event{Type: EventRefresh, App: "a/b"})
		delivered += d
		dropped += x
	}

	if len(ch) != subscriberBuffer {
		t.Errorf("expected buffered channel to be full (%d), got %d", subscriberBuffer, len(ch))
	}
	if delivered != subscriberBuffer || dropped != 100-subscriberBuffer {
		t.Errorf("delivered %d dropped %d", delivered, dropped)
	}
}

func TestMarshalEvent(t *testing.T) {
	data, err := MarshalEvent(Event{Type: EventRefresh, App: "a/b", Nodes: 2, Pages: 1, Timestamp: 10})
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "refresh" || m["app"] != "a/b" {
		t.Errorf("unexpected payload %s", data)
	}
	if _, ok := m["cursor"]; ok {
		t.Error("empty cursor should be omitted")
	}
}
