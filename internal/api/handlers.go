package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/igwedaniel/sharkmon/internal/scheduler"
	"github.com/igwedaniel/sharkmon/internal/types"
	"github.com/igwedaniel/sharkmon/internal/viewstate"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 5 * time.Second
	streamBuffer = 16
)

// Controller is the part of the scheduler exposed over HTTP
type Controller interface {
	GetStats() types.SchedulerStats
	WatchedAddress() string
	SubmitMiner(ctx context.Context, address string) error
	RefreshMiner(ctx context.Context) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handlers contains HTTP handlers for the API
type Handlers struct {
	controller Controller
	state      *viewstate.State
	logger     *logrus.Logger

	mu      sync.Mutex
	streams map[*websocket.Conn]struct{}
}

// NewHandlers creates new API handlers
func NewHandlers(controller Controller, state *viewstate.State, logger *logrus.Logger) *Handlers {
	return &Handlers{
		controller: controller,
		state:      state,
		logger:     logger,
		streams:    make(map[*websocket.Conn]struct{}),
	}
}

// Routes returns the API mux
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.HealthCheck)

	mux.HandleFunc("/api/v1/feeds", h.GetFeedStats)
	mux.HandleFunc("/api/v1/view", h.GetView)
	mux.HandleFunc("/api/v1/stream", h.Stream)

	mux.HandleFunc("/api/v1/miner", h.SubmitMiner)
	mux.HandleFunc("/api/v1/miner/refresh", h.RefreshMiner)

	return mux
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
	}
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	stats := h.controller.GetStats()
	status := "healthy"
	if !stats.IsRunning {
		status = "stopped"
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"service": "sharkmon-dashboard",
		"uptime":  stats.Uptime,
	})
}

// GetFeedStats returns refresh counters for every feed
func (h *Handlers) GetFeedStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.controller.GetStats())
}

// GetView returns the current view of all feeds
func (h *Handlers) GetView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.state.Load())
}

// SubmitMiner starts a lookup for a new watched address
func (h *Handlers) SubmitMiner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Address string `json:"address"`
	}
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// the lookup outlives the request
	if err := h.controller.SubmitMiner(context.WithoutCancel(r.Context()), req.Address); err != nil {
		if errors.Is(err, scheduler.ErrEmptyAddress) {
			http.Error(w, scheduler.EmptyAddressPrompt, http.StatusBadRequest)
			return
		}
		if errors.Is(err, scheduler.ErrStopped) {
			http.Error(w, "Scheduler is stopped", http.StatusServiceUnavailable)
			return
		}
		h.logger.Errorf("Failed to submit miner address: %v", err)
		http.Error(w, "Failed to submit miner address", http.StatusInternalServerError)
		return
	}

	address := strings.TrimSpace(req.Address)
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "accepted",
		"message": "Fetching stats for miner: " + address,
		"data":    map[string]string{"address": address},
	})

	h.logger.WithField("address", address).Info("Miner address submitted")
}

// RefreshMiner re-runs the lookup of the watched address
func (h *Handlers) RefreshMiner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.controller.RefreshMiner(context.WithoutCancel(r.Context())); err != nil {
		if errors.Is(err, scheduler.ErrEmptyAddress) {
			http.Error(w, "No miner address is being watched", http.StatusConflict)
			return
		}
		if errors.Is(err, scheduler.ErrStopped) {
			http.Error(w, "Scheduler is stopped", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "Failed to refresh miner", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "accepted",
		"data":   map[string]string{"address": h.controller.WatchedAddress()},
	})
}

type streamEvent struct {
	Feed      types.Feed      `json:"feed"`
	Status    types.Status    `json:"status"`
	Seq       uint64          `json:"seq"`
	UpdatedAt time.Time       `json:"updated_at"`
	Kind      types.ErrorKind `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func newStreamEvent(v *viewstate.View, feed types.Feed) streamEvent {
	m := v.Meta(feed)
	return streamEvent{
		Feed:      feed,
		Status:    m.Status,
		Seq:       m.Seq,
		UpdatedAt: m.UpdatedAt,
		Kind:      m.Kind,
		Message:   m.Message,
	}
}

// Stream pushes a status event over a websocket every time a feed changes.
// The current status of every feed is sent on connect.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugf("websocket upgrade failed: %v", err)
		return
	}
	h.track(conn)
	defer h.untrack(conn)

	events := make(chan types.Feed, streamBuffer)
	unsubscribe := h.state.Subscribe(func(feed types.Feed) {
		select {
		case events <- feed:
		default:
			// slow client, drop
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	v := h.state.Load()
	for _, feed := range types.AllFeeds {
		if err := h.send(conn, newStreamEvent(v, feed)); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case feed := <-events:
			if err := h.send(conn, newStreamEvent(h.state.Load(), feed)); err != nil {
				h.logger.Debugf("websocket write failed: %v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handlers) send(conn *websocket.Conn, ev streamEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Handlers) track(conn *websocket.Conn) {
	h.mu.Lock()
	h.streams[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Handlers) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.streams, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Handlers) closeStreams() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.streams {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}
