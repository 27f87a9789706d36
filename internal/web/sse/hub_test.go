package sse

import (
	"testing"
	"time"

	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/testutil"
)

func TestFormatSSEMessage(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
		data      string
		expected  string
	}{
		{
			name:      "single line data",
			eventName: "phase_changed",
			data:      `{"state":"QuestionOpen"}`,
			expected:  "event: phase_changed\ndata: {\"state\":\"QuestionOpen\"}\n\n",
		},
		{
			name:      "multi-line data",
			eventName: "test",
			data:      "{\n  \"a\": 1\n}",
			expected:  "event: test\ndata: {\ndata:   \"a\": 1\ndata: }\n\n",
		},
		{
			name:      "empty data",
			eventName: "ping",
			data:      "",
			expected:  "event: ping\ndata: \n\n",
		},
		{
			name:      "data with carriage returns",
			eventName: "test",
			data:      "line1\r\nline2\r\n",
			expected:  "event: test\ndata: line1\ndata: line2\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatSSEMessage(tt.eventName, tt.data)
			if string(result) != tt.expected {
				t.Errorf("formatSSEMessage(%q, %q)\ngot:  %q\nwant: %q",
					tt.eventName, tt.data, string(result), tt.expected)
			}
		})
	}
}

// waitForClients polls until the hub's run loop has caught up
func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func receive(t *testing.T, client *Client) string {
	t.Helper()
	select {
	case msg := <-client.send:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("client did not receive message")
		return ""
	}
}

func TestHub_RegisterAndBroadcast(t *testing.T) {
	hub := NewHub("g1", testutil.NopLogger())
	go hub.Run()
	defer hub.Close()

	client := NewClient(hub, "p1")
	hub.Register(client)
	waitForClients(t, hub, 1)

	hub.BroadcastEvent("test-event", "test data")

	if got := receive(t, client); got != "event: test-event\ndata: test data\n\n" {
		t.Errorf("client received %q", got)
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub("g1", testutil.NopLogger())
	go hub.Run()
	defer hub.Close()

	client := NewClient(hub, "p1")
	hub.Register(client)
	waitForClients(t, hub, 1)

	hub.Unregister(client)
	waitForClients(t, hub, 0)

	if _, ok := <-client.send; ok {
		t.Error("send channel still open after unregister")
	}
}

func TestHub_BroadcastToMultipleClients(t *testing.T) {
	hub := NewHub("g1", testutil.NopLogger())
	go hub.Run()
	defer hub.Close()

	clients := []*Client{NewClient(hub, "p1"), NewClient(hub, "p2"), NewClient(hub, "")}
	for _, c := range clients {
		hub.Register(c)
	}
	waitForClients(t, hub, 3)

	hub.BroadcastEvent("update", "data")

	for i, c := range clients {
		if got := receive(t, c); got != "event: update\ndata: data\n\n" {
			t.Errorf("client %d received %q", i+1, got)
		}
	}
}

func TestHub_RegisterAfterClose(t *testing.T) {
	hub := NewHub("g1", testutil.NopLogger())
	go hub.Run()
	hub.Close()
	hub.Close()

	if hub.Register(NewClient(hub, "p1")) {
		t.Error("Register succeeded on a closed hub")
	}
}

func TestHubManager_GetOrCreateHub(t *testing.T) {
	manager := NewHubManager(testutil.NopLogger())
	defer manager.CloseAll()

	hub1 := manager.GetOrCreateHub("g1")
	if hub1 == nil {
		t.Fatal("GetOrCreateHub returned nil")
	}
	if hub2 := manager.GetOrCreateHub("g1"); hub1 != hub2 {
		t.Error("GetOrCreateHub returned different hub for same game")
	}
	if hub3 := manager.GetOrCreateHub("g2"); hub3 == hub1 {
		t.Error("GetOrCreateHub returned same hub for different game")
	}
}

func TestHubManager_GetAndRemoveHub(t *testing.T) {
	manager := NewHubManager(testutil.NopLogger())

	if manager.GetHub("missing") != nil {
		t.Error("GetHub returned non-nil for non-existent hub")
	}

	created := manager.GetOrCreateHub("g1")
	if got := manager.GetHub("g1"); got != created {
		t.Error("GetHub returned different hub than GetOrCreateHub")
	}

	manager.RemoveHub("g1")
	if manager.GetHub("g1") != nil {
		t.Error("hub still exists after RemoveHub")
	}

	// no-op
	manager.RemoveHub("missing")
}

func TestHubManager_CleanupEmptyHubs(t *testing.T) {
	manager := NewHubManager(testutil.NopLogger())
	defer manager.CloseAll()

	manager.GetOrCreateHub(model.GameID("empty"))
	active := manager.GetOrCreateHub(model.GameID("active"))
	active.Register(NewClient(active, "p1"))
	waitForClients(t, active, 1)

	if removed := manager.CleanupEmptyHubs(); removed != 1 {
		t.Errorf("CleanupEmptyHubs() = %d, want 1", removed)
	}
	if manager.GetHub("empty") != nil {
		t.Error("empty hub still exists after cleanup")
	}
	if manager.GetHub("active") == nil {
		t.Error("active hub was removed during cleanup")
	}
}
