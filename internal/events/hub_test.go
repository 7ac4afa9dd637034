package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	userID := uuid.New()
	conn := &Connection{UserID: userID, Send: make(chan []byte, 4)}
	hub.register <- conn

	hub.Publish(context.Background(), "balance_updated", userID, map[string]interface{}{
		"units_billed": 3,
	})

	select {
	case raw := <-conn.Send:
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if event.Type != "balance_updated" || event.UserID != userID {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishSkipsOtherUsers(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	conn := &Connection{UserID: uuid.New(), Send: make(chan []byte, 4)}
	hub.register <- conn

	hub.Publish(context.Background(), "session_ended", uuid.New(), nil)

	select {
	case raw := <-conn.Send:
		t.Fatalf("subscriber received another user's event: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	userID := uuid.New()
	conn := &Connection{UserID: userID, Send: make(chan []byte)} // unbuffered, never read
	hub.register <- conn

	done := make(chan struct{})
	go func() {
		hub.Publish(context.Background(), "session_started", userID, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
