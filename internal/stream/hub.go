package stream

import (
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cubebot/micstream/internal/audio"
	"github.com/cubebot/micstream/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Segment stream is served on the robot's local network only
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SegmentEvent is the JSON message pushed to each subscriber when an
// utterance is emitted. PCM is base64-encoded little-endian 16-bit mono.
type SegmentEvent struct {
	Event      string    `json:"event"`
	SegmentID  string    `json:"segment_id"`
	SampleRate int       `json:"sample_rate"`
	Onset      time.Time `json:"onset"`
	End        time.Time `json:"end"`
	DurationMs int64     `json:"duration_ms"`
	Reason     string    `json:"reason"`
	PCM        string    `json:"pcm"`
}

// client is a single WebSocket subscriber. Events are queued on a buffered
// channel and written by a dedicated goroutine; a subscriber that cannot
// keep up has events dropped rather than stalling the broadcast path.
type client struct {
	id     string
	conn   *websocket.Conn
	events chan SegmentEvent
	done   chan struct{}
}

// Hub fans emitted utterances out to WebSocket subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		logger:  observability.GetLogger().With().Str("component", "stream_hub").Logger(),
	}
}

// Handler upgrades HTTP connections to WebSocket and registers them as
// subscribers until they disconnect.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}

		c := &client{
			id:     uuid.New().String(),
			conn:   conn,
			events: make(chan SegmentEvent, 16),
			done:   make(chan struct{}),
		}
		h.register(c)
		h.logger.Info().
			Str("client_id", c.id).
			Str("remote", r.RemoteAddr).
			Msg("Segment stream subscriber connected")

		go h.writeLoop(c)
		h.readLoop(c)
	}
}

// Broadcast queues a segment for every connected subscriber. Slow
// subscribers have the event dropped.
func (h *Hub) Broadcast(seg audio.Segment) {
	event := EncodeSegment(seg)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.events <- event:
		default:
			h.logger.Warn().
				Str("client_id", c.id).
				Str("segment_id", seg.ID).
				Msg("Subscriber queue full, dropping segment")
			observability.RecordSegmentDropped("stream")
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.done)
		c.conn.Close()
	}
}

// EncodeSegment converts an emitted utterance into its wire event.
func EncodeSegment(seg audio.Segment) SegmentEvent {
	pcm := make([]byte, len(seg.Samples)*2)
	for i, s := range seg.Samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	return SegmentEvent{
		Event:      "segment",
		SegmentID:  seg.ID,
		SampleRate: seg.SampleRate,
		Onset:      seg.Onset,
		End:        seg.End,
		DurationMs: seg.Duration().Milliseconds(),
		Reason:     seg.Reason.String(),
		PCM:        base64.StdEncoding.EncodeToString(pcm),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.done)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// writeLoop drains the client's event queue onto the WebSocket.
func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case event := <-c.events:
			if err := c.conn.WriteJSON(event); err != nil {
				h.logger.Warn().
					Err(err).
					Str("client_id", c.id).
					Msg("WebSocket write error, dropping subscriber")
				h.unregister(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop consumes (and discards) inbound frames so close and ping
// handlers run; it returns when the peer disconnects.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		h.logger.Info().Str("client_id", c.id).Msg("Segment stream subscriber disconnected")
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("client_id", c.id).Msg("WebSocket read error")
			}
			return
		}
	}
}
