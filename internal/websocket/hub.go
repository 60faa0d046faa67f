package websocket

import (
	"context"
	"encoding/json"
)

type PurchaseUpdate struct {
	PurchaseID string `json:"purchase_id"`
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
}

type Client struct {
	hub        *Hub
	conn       *Conn
	send       chan []byte
	purchaseID string
}

type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan PurchaseUpdate
	clients    map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan PurchaseUpdate),
		clients:    make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.purchaseID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.purchaseID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			if set, ok := h.clients[c.purchaseID]; ok {
				if _, exists := set[c]; exists {
					delete(set, c)
					close(c.send)
				}
				if len(set) == 0 {
					delete(h.clients, c.purchaseID)
				}
			}
		case upd := <-h.broadcast:
			msg, _ := json.Marshal(upd)
			if set, ok := h.clients[upd.PurchaseID]; ok {
				for c := range set {
					select {
					case c.send <- msg:
					default:
						delete(set, c)
						close(c.send)
					}
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			return
		}
	}
}

func (h *Hub) Broadcast(u PurchaseUpdate) {
	go func() { h.broadcast <- u }()
}

func (h *Hub) BroadcastPurchaseUpdate(purchaseID, state, reason string) {
	h.Broadcast(PurchaseUpdate{PurchaseID: purchaseID, State: state, Reason: reason})
}
