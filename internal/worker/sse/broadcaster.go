// Package sse streams engine events to browsers as Server-Sent Events.
package sse

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// WriteTimeout bounds a write to one client so a stale connection
	// cannot stall delivery to the others.
	WriteTimeout = 2 * time.Second
	// KeepAlive is the interval between comment frames on idle streams.
	KeepAlive = 30 * time.Second
	// QueueSize is how many published events may wait for delivery.
	QueueSize = 256
)

// Event is one message on the stream.
type Event struct {
	Data interface{} `json:"data,omitempty"`
	Type string      `json:"type"`
	Time int64       `json:"time"`
}

// Client is a connected SSE stream.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string

	closeOnce sync.Once
	writeMu   sync.Mutex
	finished  bool // guarded by writeMu; no writes once set
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// finish returns once no write to the client is in flight. A write still
// blocked on the connection is cut short by an expired write deadline.
func (c *Client) finish() {
	c.close()
	if !c.writeMu.TryLock() {
		err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Now())
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			log.Debug().Str("clientId", c.ID).Err(err).Msg("Failed to expire SSE write deadline")
		}
		c.writeMu.Lock()
	}
	c.finished = true
	c.writeMu.Unlock()
}

// Broadcaster fans published events out to every connected client.
// Publish never blocks the caller; events are delivered in publish order
// by a single dispatch goroutine.
type Broadcaster struct {
	clients map[string]*Client
	queue   chan Event
	stop    chan struct{}
	stopped sync.Once
	mu      sync.RWMutex
	nextID  int
}

// NewBroadcaster creates a broadcaster and starts its dispatch loop.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		clients: make(map[string]*Client),
		queue:   make(chan Event, QueueSize),
		stop:    make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Close stops the dispatch loop and disconnects every client.
func (b *Broadcaster) Close() {
	b.stopped.Do(func() {
		close(b.stop)
		b.mu.Lock()
		for id, c := range b.clients {
			delete(b.clients, id)
			c.close()
		}
		b.mu.Unlock()
	})
}

// Publish queues an event. When the queue is full the event is dropped.
func (b *Broadcaster) Publish(eventType string, payload interface{}) {
	ev := Event{Type: eventType, Data: payload, Time: time.Now().UnixMilli()}
	select {
	case <-b.stop:
	case b.queue <- ev:
	default:
		log.Warn().Str("type", eventType).Msg("SSE queue full, dropping event")
	}
}

func (b *Broadcaster) dispatch() {
	for {
		select {
		case <-b.stop:
			return
		case ev := <-b.queue:
			b.Broadcast(ev)
		}
	}
}

// AddClient registers a new stream.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:      fmt.Sprintf("client-%d", b.nextID),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", client.ID).Int("totalClients", count).Msg("SSE client connected")
	return client, nil
}

// RemoveClient unregisters a stream. Removing twice is safe.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	client.close()
	log.Debug().Str("clientId", client.ID).Int("totalClients", count).Msg("SSE client disconnected")
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast writes ev to every client synchronously, dropping clients whose
// write fails or times out.
func (b *Broadcaster) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal SSE event")
		return
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, data))

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		dead sync.Map
	)
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if !b.write(c, frame) {
				dead.Store(c.ID, c)
			}
		}(c)
	}
	wg.Wait()

	dead.Range(func(_, v interface{}) bool {
		b.RemoveClient(v.(*Client))
		return true
	})
}

// write sends one frame, reporting false if the client should be dropped.
func (b *Broadcaster) write(c *Client, frame []byte) bool {
	done := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if c.finished {
			done <- nil
			return
		}
		if _, err := c.Writer.Write(frame); err != nil {
			done <- err
			return
		}
		c.Flusher.Flush()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Debug().Str("clientId", c.ID).Err(err).Msg("SSE write failed, removing client")
			return false
		}
		return true
	case <-time.After(WriteTimeout):
		log.Warn().Str("clientId", c.ID).Dur("timeout", WriteTimeout).Msg("SSE write timed out, removing client")
		return false
	case <-c.Done:
		return true
	}
}

// HandleSSE serves one event stream until the client disconnects. It does
// not return while a write to w is still running.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() {
		b.RemoveClient(client)
		client.finish()
	}()

	b.write(client, []byte(fmt.Sprintf("event: connected\ndata: {\"type\":\"connected\",\"clientId\":%q}\n\n", client.ID)))

	ticker := time.NewTicker(KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case <-ticker.C:
			if !b.write(client, []byte(": keepalive\n\n")) {
				return
			}
		}
	}
}
