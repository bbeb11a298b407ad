// Package sse implements a Server-Sent Events broker for load notifications.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/taskloader/internal/loader"
)

// Event types published by the broker.
const (
	EventLoadStarted   = "load.started"
	EventLoadCompleted = "load.completed"
	EventLoadFailed    = "load.failed"
)

// DefaultKeepAlive is the interval between comment pings on idle streams.
const DefaultKeepAlive = 15 * time.Second

const clientBuffer = 64

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Broker fans load events out to SSE clients.
//
// One goroutine owns the client set, the event sequence and the last load
// outcome; the exported methods only talk to it over channels. A client that
// subscribes after a load has finished immediately receives that outcome.
type Broker struct {
	keepAlive time.Duration

	subscribe   chan chan []byte
	unsubscribe chan chan []byte
	publish     chan Event
	count       chan chan int

	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ loader.Observer = (*Broker)(nil)

// NewBroker creates a broker and starts its loop. A keepAlive of zero or
// less uses DefaultKeepAlive.
func NewBroker(keepAlive time.Duration) *Broker {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	b := &Broker{
		keepAlive:   keepAlive,
		subscribe:   make(chan chan []byte),
		unsubscribe: make(chan chan []byte),
		publish:     make(chan Event, 256),
		count:       make(chan chan int),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	var (
		clients = make(map[chan []byte]struct{})
		seq     uint64
		outcome []byte
	)

	for {
		select {
		case <-b.stop:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribe:
			clients[ch] = struct{}{}
			if outcome != nil {
				ch <- outcome
			}

		case ch := <-b.unsubscribe:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.publish:
			seq++
			frame, err := frame(seq, ev)
			if err != nil {
				continue
			}
			if ev.Type == EventLoadCompleted || ev.Type == EventLoadFailed {
				outcome = frame
			}
			for ch := range clients {
				select {
				case ch <- frame:
				default:
					// slow client, drop
				}
			}

		case resp := <-b.count:
			resp <- len(clients)
		}
	}
}

func frame(id uint64, ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, ev.Type, payload)), nil
}

// Close stops the loop and closes every client channel. It is safe to call
// more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stop)
	}
	<-b.stopped
}

// Subscribe registers a client. The returned channel is closed by
// Unsubscribe or Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	select {
	case b.subscribe <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	select {
	case b.unsubscribe <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	resp := make(chan int, 1)
	select {
	case b.count <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish queues an event for all clients. It is a no-op after Close.
func (b *Broker) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publish <- ev:
	case <-b.stopped:
	}
}

// LoadStarted publishes load.started.
func (b *Broker) LoadStarted(loadID string) {
	b.Publish(Event{Type: EventLoadStarted, Data: map[string]string{"load_id": loadID}})
}

// LoadFinished publishes load.completed or load.failed.
func (b *Broker) LoadFinished(res *loader.Result, err error) {
	if err != nil {
		b.Publish(Event{Type: EventLoadFailed, Data: map[string]string{
			"load_id": res.LoadID,
			"error":   err.Error(),
		}})
		return
	}
	b.Publish(Event{Type: EventLoadCompleted, Data: map[string]any{
		"load_id": res.LoadID,
		"count":   res.Count,
		"digest":  res.Digest,
	}})
}

// ServeHTTP streams events to one client (GET /api/events) until the request
// ends or the broker is closed.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
