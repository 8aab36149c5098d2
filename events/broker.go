package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"fatgo/runner"
)

// clientBuffer is how many unread messages a slow client may queue before events are dropped for it
const clientBuffer = 16

// EventBroker manages SSE connections and broadcasts pipeline events
type EventBroker struct {
	clients map[chan string]bool
	mu      sync.RWMutex
	log     *zap.Logger
}

// NewBroker creates an event broker with no clients
func NewBroker(logger *zap.Logger) *EventBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBroker{
		clients: make(map[chan string]bool),
		log:     logger,
	}
}

// Subscribe registers a new client and returns its message channel
func (b *EventBroker) Subscribe() chan string {
	client := make(chan string, clientBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	b.log.Debug("SSE client connected", zap.Int("clients", len(b.clients)))
	return client
}

// Unsubscribe removes a client and closes its channel
func (b *EventBroker) Unsubscribe(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; !ok {
		return
	}
	delete(b.clients, client)
	close(client)
	b.log.Debug("SSE client disconnected", zap.Int("clients", len(b.clients)))
}

// Clients returns the number of connected clients
func (b *EventBroker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends an event to all connected clients
func (b *EventBroker) Broadcast(eventType string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		b.log.Error("failed to marshal event data", zap.String("event", eventType), zap.Error(err))
		return
	}

	message := fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData))

	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client <- message:
		default:
			// Client buffer full, skip
		}
	}
}

// Publish forwards a pipeline progress event to every client
func (b *EventBroker) Publish(ev runner.Event) {
	b.Broadcast(string(ev.Type), ev)
}
