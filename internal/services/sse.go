package services

import (
	"sync"
)

const (
	LedgerEventSpend = "spend"
	LedgerEventGrant = "grant"
	LedgerEventTrack = "track"
)

// LedgerEvent is pushed to SSE subscribers after a ledger write commits.
type LedgerEvent struct {
	Kind          string  `json:"kind"` // spend, grant, track
	UserID        uint    `json:"user_id"`
	TransactionID uint    `json:"transaction_id"`
	Amount        int64   `json:"amount"`
	Balance       *int64  `json:"balance,omitempty"` // nil for track-only writes
	Type          string  `json:"type"`
	Provider      *string `json:"provider,omitempty"`
	ProjectID     *uint   `json:"project_id,omitempty"`
	RealCost      *string `json:"real_cost,omitempty"`
}

type sseClient struct {
	userID uint // 0 receives every user's events
	ch     chan LedgerEvent
}

// SSEHub manages SSE client connections and event broadcasting
type SSEHub struct {
	clients map[string]*sseClient
	mu      sync.RWMutex
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]*sseClient),
	}
}

// Subscribe registers a client for one user's ledger events. userID 0
// subscribes to all users (admin view).
func (h *SSEHub) Subscribe(clientID string, userID uint) <-chan LedgerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan LedgerEvent, 100)
	h.clients[clientID] = &sseClient{userID: userID, ch: ch}
	return ch
}

// Unsubscribe removes a client from the hub
func (h *SSEHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[clientID]; ok {
		close(client.ch)
		delete(h.clients, clientID)
	}
}

// Publish delivers event to the owning user's clients and to admin clients.
func (h *SSEHub) Publish(event LedgerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if client.userID != 0 && client.userID != event.UserID {
			continue
		}
		// drop the event for slow clients
		select {
		case client.ch <- event:
		default:
		}
	}
}

// ClientCount returns the number of connected clients
func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var globalSSEHub *SSEHub
var sseHubOnce sync.Once

// GetSSEHub returns the global SSE hub singleton
func GetSSEHub() *SSEHub {
	sseHubOnce.Do(func() {
		globalSSEHub = NewSSEHub()
	})
	return globalSSEHub
}
