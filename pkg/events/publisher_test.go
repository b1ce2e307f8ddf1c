package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeSerialization(t *testing.T) {
	data := &SessionCompletedData{
		SceneID: "scene-1",
		OwnerID: "user-1",
	}

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}

	env := Envelope{
		ID:        "test-id",
		Type:      SessionCompleted,
		Source:    "share",
		SessionID: "session-123",
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	if decoded.Type != SessionCompleted {
		t.Errorf("type = %q, want %q", decoded.Type, SessionCompleted)
	}
	if decoded.SessionID != "session-123" {
		t.Errorf("session_id = %q, want %q", decoded.SessionID, "session-123")
	}

	var payload SessionCompletedData
	if err := json.Unmarshal(decoded.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.SceneID != "scene-1" {
		t.Errorf("scene_id = %q, want %q", payload.SceneID, "scene-1")
	}
}

func TestLocalFanOut(t *testing.T) {
	pub := NewPublisher(nil, "test", "events")
	ch := pub.Subscribe("sub-1", 4)
	defer pub.Unsubscribe("sub-1")

	if err := pub.Emit(context.Background(), SessionCreated, "session-1", &SessionCreatedData{SceneID: "scene-1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case env := <-ch:
		if env.Type != SessionCreated {
			t.Errorf("type = %q, want %q", env.Type, SessionCreated)
		}
		if env.SessionID != "session-1" {
			t.Errorf("session_id = %q, want %q", env.SessionID, "session-1")
		}
		if env.ID == "" {
			t.Error("envelope id should be set")
		}
	case <-time.After(time.Second):
		t.Fatal("no envelope received")
	}
}

func TestFanOutDropsWhenFull(t *testing.T) {
	pub := NewPublisher(nil, "test", "events")
	pub.Subscribe("slow", 1)
	defer pub.Unsubscribe("slow")

	// Second emit must not block even though nobody drains the channel.
	for i := 0; i < 3; i++ {
		if err := pub.Emit(context.Background(), SystemError, "", nil); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}
}
