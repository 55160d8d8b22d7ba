// Package live streams auction updates to websocket watchers.
package live

import (
	model "auction-engine/internal/models"
	"auction-engine/utils"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks watchers per auction and fans events out to them
type Hub struct {
	mu       sync.RWMutex
	watchers map[string]map[*Client]struct{} // key: auctionID
}

// NewHub returns an empty hub
func NewHub() *Hub {
	return &Hub{watchers: make(map[string]map[*Client]struct{})}
}

// Publish sends event to every watcher of its auction. Watchers whose send
// buffer is full are disconnected rather than blocking the caller.
func (h *Hub) Publish(event model.AuctionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		utils.Error("live: marshal event failed", map[string]any{"auction_id": event.AuctionID, "error": err.Error()})
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.watchers[event.AuctionID] {
		if !c.enqueue(payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		utils.Debug("live: dropping slow watcher", map[string]any{"auction_id": event.AuctionID, "client_id": c.id})
		h.remove(c)
		c.close()
	}
}

// Serve upgrades the request and registers the connection as a watcher of auctionID
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, auctionID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := newClient(utils.GenerateID(), auctionID, conn)
	h.add(c)
	utils.Debug("live: watcher connected", map[string]any{"auction_id": auctionID, "client_id": c.id})

	go c.writePump()
	go func() {
		c.readPump()
		h.remove(c)
		c.close()
		utils.Debug("live: watcher disconnected", map[string]any{"auction_id": auctionID, "client_id": c.id})
	}()
	return nil
}

// Watchers returns the number of connections watching auctionID
func (h *Hub) Watchers(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[auctionID])
}

// Close disconnects every watcher
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.watchers
	h.watchers = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for c := range set {
			c.close()
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.watchers[c.auctionID]
	if !ok {
		set = make(map[*Client]struct{})
		h.watchers[c.auctionID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.watchers[c.auctionID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.watchers, c.auctionID)
	}
}
