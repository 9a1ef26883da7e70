package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/JamshedLatipov/crm-sub001/internal/fanout"
	"github.com/JamshedLatipov/crm-sub001/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Sessions connect from browser origins terminated upstream; origin
	// policy is enforced at the edge proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway routes notifications to connected users. Delivery is best effort
// and online gated: an offline recipient causes no publish and no state
// change, the notification simply waits in the store.
type Gateway struct {
	store     NotificationStore
	directory SessionDirectory
	bus       Publisher
	hub       *Hub
	processID string
}

// NewGateway validates dependencies and creates a gateway.
func NewGateway(store NotificationStore, directory SessionDirectory, bus Publisher, processID string) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("notification store cannot be nil")
	}
	if directory == nil {
		return nil, errors.New("session directory cannot be nil")
	}
	if bus == nil {
		return nil, errors.New("fanout bus cannot be nil")
	}
	if processID == "" {
		return nil, errors.New("process id cannot be empty")
	}
	return &Gateway{
		store:     store,
		directory: directory,
		bus:       bus,
		hub:       NewHub(),
		processID: processID,
	}, nil
}

// Hub exposes the local socket cache, mainly for metrics.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// isOnline consults the cross-process directory. When the directory is
// unreachable, the local socket cache still answers for sessions on this
// process; delivery degrades to local-only instead of stopping.
func (g *Gateway) isOnline(ctx context.Context, userID string) bool {
	online, err := g.directory.IsOnline(ctx, userID)
	if err != nil {
		slog.Warn("Session directory unavailable, falling back to local sessions",
			"user_id", userID,
			"error", err,
		)
		return g.hub.OnlineLocally(userID)
	}
	return online
}

// SendNotificationToUser publishes a notification for delivery to every
// session of the recipient. An offline recipient is a silent no-op; the
// returned flag reports whether anything was actually published so callers
// can leave undelivered rows pending.
func (g *Gateway) SendNotificationToUser(ctx context.Context, n *notify.Notification) (bool, error) {
	if !g.isOnline(ctx, n.RecipientID) {
		slog.Debug("Recipient offline, skipping delivery",
			"notification_id", n.ID,
			"recipient_id", n.RecipientID,
		)
		return false, nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("failed to marshal notification payload: %w", err)
	}
	if err := g.bus.Publish(ctx, fanout.Message{
		Type:    fanout.TypeNotification,
		UserID:  n.RecipientID,
		Payload: payload,
	}); err != nil {
		return false, fmt.Errorf("failed to publish notification %s: %w", n.ID, err)
	}

	g.publishUnreadCount(ctx, n.RecipientID)
	return true, nil
}

// BroadcastNotification publishes one payload to every online user in the
// given set. Offline users are filtered out before the publish so processes
// never fan out work for unreachable recipients.
func (g *Gateway) BroadcastNotification(ctx context.Context, userIDs []string, payload interface{}) error {
	var online []string
	for _, userID := range userIDs {
		if g.isOnline(ctx, userID) {
			online = append(online, userID)
		}
	}
	if len(online) == 0 {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast payload: %w", err)
	}
	if err := g.bus.Publish(ctx, fanout.Message{
		Type:    fanout.TypeBroadcast,
		UserIDs: online,
		Payload: data,
	}); err != nil {
		return fmt.Errorf("failed to publish broadcast: %w", err)
	}
	return nil
}

// publishUnreadCount recomputes the recipient's absolute unread count and
// publishes it. The count is a snapshot, not a delta, so sessions converge
// regardless of message ordering.
func (g *Gateway) publishUnreadCount(ctx context.Context, userID string) {
	count, err := g.store.UnreadCount(ctx, userID)
	if err != nil {
		slog.Warn("Failed to compute unread count",
			"user_id", userID,
			"error", err,
		)
		return
	}
	payload, err := json.Marshal(map[string]int64{"count": count})
	if err != nil {
		return
	}
	if err := g.bus.Publish(ctx, fanout.Message{
		Type:    fanout.TypeUnreadCount,
		UserID:  userID,
		Payload: payload,
	}); err != nil {
		slog.Warn("Failed to publish unread count",
			"user_id", userID,
			"error", err,
		)
	}
}

// HandleFanout consumes one bus message and delivers it to local sessions
// only. Messages for users with no session on this process are dropped;
// some other process owns those sessions and handles the same message.
func (g *Gateway) HandleFanout(ctx context.Context, msg fanout.Message) {
	switch msg.Type {
	case fanout.TypeNotification:
		if g.hub.SendToUser(msg.UserID, Event{Event: EventNewNotification, Data: msg.Payload}) == 0 {
			return
		}
		var n struct {
			ID string `json:"notification_id"`
		}
		if err := json.Unmarshal(msg.Payload, &n); err != nil || n.ID == "" {
			return
		}
		if err := g.store.MarkDelivered(ctx, n.ID); err != nil {
			slog.Warn("Failed to mark notification delivered",
				"notification_id", n.ID,
				"error", err,
			)
		}
	case fanout.TypeUnreadCount:
		g.hub.SendToUser(msg.UserID, Event{Event: EventUnreadCount, Data: msg.Payload})
	case fanout.TypeBroadcast:
		for _, userID := range msg.UserIDs {
			g.hub.SendToUser(userID, Event{Event: EventNewNotification, Data: msg.Payload})
		}
	default:
		slog.Warn("Unknown fanout message type", "type", msg.Type)
	}
}

// ServeWS upgrades a session connection and registers it.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, `{"error":"missing userId"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade session connection", "error", err)
		return
	}

	sessionHandle := uuid.NewString()
	client := newClient(g, conn, userID, sessionHandle)

	if err := g.directory.Register(r.Context(), userID, sessionHandle, g.processID); err != nil {
		slog.Error("Failed to register session",
			"user_id", userID,
			"error", err,
		)
		_ = conn.Close()
		return
	}

	g.hub.add(client)
	client.start()

	// The client can catch up immediately instead of waiting for the next
	// notification to learn its unread count.
	go func() {
		count, err := g.store.UnreadCount(context.Background(), userID)
		if err != nil {
			return
		}
		g.hub.SendToUser(userID, Event{Event: EventUnreadCount, Data: map[string]int64{"count": count}})
	}()
}

// detach removes a session from the local cache and the directory. The
// directory unregister runs even when the local removal found nothing;
// a half-registered session must never survive its socket.
func (g *Gateway) detach(c *Client) {
	g.hub.remove(c)
	if err := g.directory.Unregister(context.Background(), c.userID, c.sessionHandle); err != nil {
		slog.Warn("Failed to unregister session",
			"user_id", c.userID,
			"session_handle", c.sessionHandle,
			"error", err,
		)
	}
}

// Routes registers the session-facing HTTP API.
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", g.ServeWS)
	mux.HandleFunc("GET /api/notifications", g.handleList)
	mux.HandleFunc("GET /api/notifications/unread-count", g.handleUnreadCount)
	mux.HandleFunc("POST /api/notifications/{id}/read", g.handleMarkRead)
	mux.HandleFunc("POST /api/notifications/read-all", g.handleMarkAllRead)
}

func (g *Gateway) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	filter := notify.ListFilter{
		Status:     notify.Status(r.URL.Query().Get("status")),
		UnreadOnly: r.URL.Query().Get("unreadOnly") == "true",
	}
	// Malformed or negative paging falls back to the store defaults.
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		filter.Offset = v
	}

	list, total, err := g.store.ListForRecipient(r.Context(), userID, filter)
	if err != nil {
		slog.Error("Failed to list notifications", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if list == nil {
		list = []*notify.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": list,
		"total":         total,
	})
}

func (g *Gateway) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}
	count, err := g.store.UnreadCount(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to count unread notifications", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count unread notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	notificationID := r.PathValue("id")
	userID := r.URL.Query().Get("userId")
	if notificationID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "missing notification id or userId")
		return
	}

	if err := g.store.MarkRead(r.Context(), notificationID); err != nil {
		slog.Error("Failed to mark notification read",
			"notification_id", notificationID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}

	// Every session of this user, on every process, converges on the new
	// count.
	g.publishUnreadCount(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}

	affected, err := g.store.MarkAllRead(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to mark all notifications read", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to mark all read")
		return
	}

	g.publishUnreadCount(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]int64{"marked": affected})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
