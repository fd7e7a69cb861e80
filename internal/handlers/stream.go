package handlers

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/hydralab/warden/internal/models"
)

// StreamHandler pushes every ledger append to connected dashboards over
// WebSocket. Slow consumers get dropped rather than backing up the writer.
type StreamHandler struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]chan []byte
}

func NewStreamHandler() *StreamHandler {
	return &StreamHandler{
		subs: make(map[*websocket.Conn]chan []byte),
	}
}

// Publish fans an activity record out to all subscribers. Wired as the
// ledger's append callback, so it must never block.
func (h *StreamHandler) Publish(rec *models.ActivityRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("Activity stream marshal failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.subs {
		select {
		case ch <- payload:
		default:
			// Subscriber is not keeping up, disconnect it.
			close(ch)
			delete(h.subs, conn)
		}
	}
}

// UpgradeCheck is middleware that checks if the request is a websocket upgrade
func (h *StreamHandler) UpgradeCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleStream handles WebSocket activity feed sessions
func (h *StreamHandler) HandleStream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		ch := make(chan []byte, 64)

		h.mu.Lock()
		h.subs[c] = ch
		h.mu.Unlock()

		slog.Info("Activity stream subscriber connected", "remote", c.RemoteAddr().String())

		defer func() {
			h.mu.Lock()
			if _, ok := h.subs[c]; ok {
				close(ch)
				delete(h.subs, c)
			}
			h.mu.Unlock()
			slog.Info("Activity stream subscriber disconnected", "remote", c.RemoteAddr().String())
		}()

		// Drain reads so close frames are processed.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case payload, ok := <-ch:
				if !ok {
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
}
