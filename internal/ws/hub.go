package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/damoang/angple-social/internal/domain"
	"github.com/damoang/angple-social/internal/service"
	"github.com/damoang/angple-social/pkg/logger"
)

// Options per-connection limits
type Options struct {
	AuthTimeout     time.Duration
	EventTimeout    time.Duration
	EventsPerSecond float64
	EventBurst      int
}

// DefaultOptions 10s auth timeout, 20 events/s with a burst of 40
func DefaultOptions() Options {
	return Options{
		AuthTimeout:     10 * time.Second,
		EventTimeout:    10 * time.Second,
		EventsPerSecond: 20,
		EventBurst:      40,
	}
}

// Hub manages WebSocket clients, presence and conversation rooms
type Hub struct {
	// Registered clients grouped by user ID
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	presence Presence
	rooms    *Rooms
	auth     Authenticator
	messages service.MessageService
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(presence Presence, auth Authenticator, messages service.MessageService, opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:  make(map[string]map[*Client]bool),
		presence: presence,
		rooms:    NewRooms(),
		auth:     auth,
		messages: messages,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Rooms returns the conversation router
func (h *Hub) Rooms() *Rooms {
	return h.rooms
}

// Register records presence for an authenticated client, queues greeting
// to it and then adds it to the registry, announcing the user when this is
// their first connection. Nothing is registered when presence cannot be
// recorded, so a later Unregister never marks the user offline.
func (h *Hub) Register(ctx context.Context, client *Client, greeting *Event) error {
	userID := client.UserID()
	changed, err := h.presence.MarkOnline(ctx, userID)
	if err != nil {
		return fmt.Errorf("mark %s online: %w", userID, err)
	}
	if greeting != nil {
		client.SendEvent(greeting)
	}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]bool)
	}
	h.clients[userID][client] = true
	h.mu.Unlock()
	connectionsActive.Inc()

	if changed {
		usersOnline.Inc()
		h.BroadcastAll(NewEvent(EventUserOnline, UserPayload{UserID: userID}))
	}
	return nil
}

// remove drops client from the registry and reports whether it was there
func (h *Hub) remove(client *Client) bool {
	userID := client.UserID()
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[userID]
	if !ok {
		return false
	}
	_, ok = clients[client]
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, userID)
	}
	return ok
}

// Unregister removes the client from every room and the registry, and
// announces the user when their last connection closes
func (h *Hub) Unregister(ctx context.Context, client *Client) {
	h.rooms.LeaveAll(client)
	client.Close()

	if !h.remove(client) {
		return
	}
	connectionsActive.Dec()

	userID := client.UserID()
	changed, err := h.presence.MarkOffline(ctx, userID)
	if err != nil {
		logger.Warn("presence offline for %s failed: %v", userID, err)
		return
	}
	if changed {
		usersOnline.Dec()
		h.BroadcastAll(NewEvent(EventUserOffline, UserPayload{UserID: userID}))
	}
}

func (h *Hub) snapshot(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets []*Client
	if userID == "" {
		for _, set := range h.clients {
			for c := range set {
				targets = append(targets, c)
			}
		}
		return targets
	}
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	return targets
}

func deliver(targets []*Client, event *Event) int {
	if len(targets) == 0 {
		return 0
	}
	data, err := event.Encode()
	if err != nil {
		logger.Error("encode %s event: %v", event.Type, err)
		return 0
	}
	n := 0
	for _, c := range targets {
		if c.Send(data) {
			n++
		}
	}
	return n
}

// SendToUser delivers an event to every connection of userID
func (h *Hub) SendToUser(userID string, event *Event) int {
	return deliver(h.snapshot(userID), event)
}

// BroadcastAll delivers an event to every authenticated connection
func (h *Hub) BroadcastAll(event *Event) int {
	return deliver(h.snapshot(""), event)
}

// PublishToConversation delivers an event to the room of the pair {a, b}
func (h *Hub) PublishToConversation(a, b string, event *Event) int {
	data, err := event.Encode()
	if err != nil {
		logger.Error("encode %s event: %v", event.Type, err)
		return 0
	}
	return h.rooms.Broadcast(domain.RoomKey(a, b), data)
}

// IsOnline reports whether userID has an open connection
func (h *Hub) IsOnline(ctx context.Context, userID string) (bool, error) {
	return h.presence.IsOnline(ctx, userID)
}

// Connections number of connections registered for userID, or all when empty
func (h *Hub) Connections(userID string) int {
	return len(h.snapshot(userID))
}

// Stop closes every connection
func (h *Hub) Stop() {
	h.cancel()
	for _, c := range h.snapshot("") {
		c.Close()
	}
}
