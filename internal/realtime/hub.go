package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/tableserve-backend/internal/orders"
)

const clientBuffer = 16

// Hub is the in-process Notifier/Subscriber. Slow clients drop messages
// instead of blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[chan Message]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[chan Message]struct{})}
}

func (h *Hub) Publish(_ context.Context, event, room string, payload []orders.OrderView) error {
	h.Deliver(Message{Event: event, Room: room, Orders: payload, SentAt: time.Now().UTC()})
	return nil
}

// Deliver fans msg out to the room's local clients.
func (h *Hub) Deliver(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients[msg.Room] {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) Subscribe(ctx context.Context, rooms ...string) (<-chan Message, func(), error) {
	ch := make(chan Message, clientBuffer)

	h.mu.Lock()
	for _, room := range rooms {
		if h.clients[room] == nil {
			h.clients[room] = make(map[chan Message]struct{})
		}
		h.clients[room][ch] = struct{}{}
	}
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			h.remove(ch, rooms)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// ClientCount reports how many subscribers listen on room.
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[room])
}

func (h *Hub) remove(ch chan Message, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		delete(h.clients[room], ch)
		if len(h.clients[room]) == 0 {
			delete(h.clients, room)
		}
	}
	close(ch)
}
