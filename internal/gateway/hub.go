package gateway

import (
	"log/slog"
	"sync"
)

// Event names pushed to connected sessions.
const (
	EventNewNotification = "new_notification"
	EventUnreadCount     = "unread_count"
)

// Event is the envelope written to a session socket.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub is the process-local socket cache. It only knows about sessions
// connected to this process; the cross-process truth lives in the session
// directory.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*Client]bool)}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[c.userID]
	if !ok {
		set = make(map[*Client]bool)
		h.sessions[c.userID] = set
	}
	set[c] = true
	slog.Info("Session connected",
		"user_id", c.userID,
		"session_handle", c.sessionHandle,
		"local_sessions", len(set),
	)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[c.userID]
	if !ok {
		return
	}
	if _, present := set[c]; !present {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.sessions, c.userID)
	}
	slog.Info("Session disconnected",
		"user_id", c.userID,
		"session_handle", c.sessionHandle,
		"local_sessions", len(set),
	)
}

// OnlineLocally reports whether the user has a session on this process.
func (h *Hub) OnlineLocally(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

// SendToUser pushes an event to every local session of the user and returns
// the number of sessions reached. A session whose send buffer is full is
// dropped; its read pump notices the closed channel and cleans up.
func (h *Hub) SendToUser(userID string, event Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[userID]
	if !ok {
		return 0
	}

	var reached int
	var toRemove []*Client
	for c := range set {
		select {
		case c.send <- event:
			reached++
		default:
			toRemove = append(toRemove, c)
		}
	}
	for _, c := range toRemove {
		delete(set, c)
		close(c.send)
		slog.Warn("Dropping slow session",
			"user_id", userID,
			"session_handle", c.sessionHandle,
		)
	}
	if len(set) == 0 {
		delete(h.sessions, userID)
	}
	return reached
}

// SessionCount returns the number of local sessions across all users.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var total int
	for _, set := range h.sessions {
		total += len(set)
	}
	return total
}

// CloseAll detaches every local session. Called during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.sessions {
		for c := range set {
			close(c.send)
		}
		delete(h.sessions, userID)
	}
}
