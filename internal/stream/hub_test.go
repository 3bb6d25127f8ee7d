package stream

import (
	"encoding/base64"
	"encoding/binary"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cubebot/micstream/internal/audio"
)

func testSegment() audio.Segment {
	onset := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return audio.Segment{
		ID:         "seg-test",
		Samples:    []int16{100, -100, 0, 32767},
		SampleRate: 8000,
		Onset:      onset,
		End:        onset.Add(500 * time.Millisecond),
		Reason:     audio.EndSilence,
	}
}

func TestEncodeSegment(t *testing.T) {
	seg := testSegment()

	event := EncodeSegment(seg)

	if event.Event != "segment" {
		t.Errorf("Expected event type 'segment', got '%s'", event.Event)
	}
	if event.SegmentID != "seg-test" {
		t.Errorf("Expected segment ID 'seg-test', got '%s'", event.SegmentID)
	}
	if event.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", event.SampleRate)
	}
	if event.DurationMs != 500 {
		t.Errorf("Expected duration 500ms, got %d", event.DurationMs)
	}
	if event.Reason != "silence" {
		t.Errorf("Expected reason 'silence', got '%s'", event.Reason)
	}

	pcm, err := base64.StdEncoding.DecodeString(event.PCM)
	if err != nil {
		t.Fatalf("Failed to decode PCM payload: %v", err)
	}
	if len(pcm) != len(seg.Samples)*2 {
		t.Fatalf("Expected %d PCM bytes, got %d", len(seg.Samples)*2, len(pcm))
	}
	for i, want := range seg.Samples {
		got := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if got != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial WebSocket: %v", err)
	}
	defer conn.Close()

	// Wait for the subscriber to register
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(testSegment())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event SegmentEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read broadcast event: %v", err)
	}

	if event.SegmentID != "seg-test" {
		t.Errorf("Expected segment ID 'seg-test', got '%s'", event.SegmentID)
	}
	if event.Reason != "silence" {
		t.Errorf("Expected reason 'silence', got '%s'", event.Reason)
	}
}

func TestHub_BroadcastNoSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	// Must not panic or block with no subscribers
	hub.Broadcast(testSegment())

	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", hub.ClientCount())
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial WebSocket: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscriber never unregistered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
