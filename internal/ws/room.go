package ws

import (
	"sync"

	"github.com/damoang/angple-social/internal/domain"
)

// Rooms routes conversation events to the connections subscribed to a
// conversation. A client can be subscribed to many rooms.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[*Client]struct{}
	joined  map[*Client]map[string]struct{}
}

// NewRooms creates an empty router
func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[*Client]struct{}),
		joined:  make(map[*Client]map[string]struct{}),
	}
}

// Join subscribes the client to its conversation with partnerID
func (r *Rooms) Join(c *Client, partnerID string) string {
	key := domain.RoomKey(c.UserID(), partnerID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[key] == nil {
		r.members[key] = make(map[*Client]struct{})
	}
	r.members[key][c] = struct{}{}
	if r.joined[c] == nil {
		r.joined[c] = make(map[string]struct{})
	}
	r.joined[c][key] = struct{}{}
	roomsActive.Set(float64(len(r.members)))
	return key
}

// Leave unsubscribes the client from its conversation with partnerID
func (r *Rooms) Leave(c *Client, partnerID string) (string, bool) {
	key := domain.RoomKey(c.UserID(), partnerID)

	r.mu.Lock()
	defer r.mu.Unlock()
	ok := r.removeLocked(c, key)
	roomsActive.Set(float64(len(r.members)))
	return key, ok
}

// LeaveAll unsubscribes the client from every room and returns the keys
func (r *Rooms) LeaveAll(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.joined[c]))
	for key := range r.joined[c] {
		keys = append(keys, key)
	}
	for _, key := range keys {
		r.removeLocked(c, key)
	}
	delete(r.joined, c)
	roomsActive.Set(float64(len(r.members)))
	return keys
}

func (r *Rooms) removeLocked(c *Client, key string) bool {
	set, ok := r.members[key]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.members, key)
	}
	if keys := r.joined[c]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.joined, c)
		}
	}
	return true
}

// Broadcast sends data once to every subscribed connection and returns
// how many accepted it
func (r *Rooms) Broadcast(key string, data []byte) int {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.members[key]))
	for c := range r.members[key] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(data) {
			delivered++
		}
	}
	return delivered
}

// Members number of connections subscribed to key
func (r *Rooms) Members(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[key])
}

// IsMember reports whether the client is subscribed to key
func (r *Rooms) IsMember(c *Client, key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[key][c]
	return ok
}

// Count number of rooms with at least one subscriber
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
