package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	gw "github.com/gorilla/websocket"

	"github.com/coldyjudgy/ggb-smart-contracts/internal/purchase"
)

type Conn = gw.Conn

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type PurchaseGetter interface {
	Get(ctx context.Context, id string) (*purchase.Purchase, error)
}

type Handler struct {
	hub       *Hub
	purchases PurchaseGetter
	logger    *slog.Logger
}

func NewHandler(hub *Hub, purchases PurchaseGetter) *Handler {
	return &Handler{hub: hub, purchases: purchases, logger: slog.Default()}
}

// ServeWS streams saga state changes for one purchase. The current
// state is pushed immediately so a client that connects after a
// transition still sees where the saga is.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	purchaseID := r.PathValue("purchaseID")
	p, err := h.purchases.Get(r.Context(), purchaseID)
	if err != nil {
		_ = conn.Close()
		return
	}

	client := &Client{
		hub:        h.hub,
		conn:       conn,
		send:       make(chan []byte, 256),
		purchaseID: purchaseID,
	}

	client.hub.register <- client
	go client.writePump()
	go client.readPump()

	upd := PurchaseUpdate{PurchaseID: purchaseID, State: string(p.State), Reason: p.Reason}
	if b, err := json.Marshal(upd); err == nil {
		select {
		case client.send <- b:
		case <-time.After(1 * time.Second):
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
}
