package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/tierd/tierd-go/internal/logger"
	"github.com/tierd/tierd-go/internal/middleware"
	"github.com/tierd/tierd-go/internal/realtime"
)

const defaultHeartbeat = 15 * time.Second

// StreamHandler serves vote deltas as Server-Sent Events.
type StreamHandler struct {
	hub       *realtime.Hub
	heartbeat time.Duration
}

func NewStreamHandler(hub *realtime.Hub, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &StreamHandler{hub: hub, heartbeat: heartbeat}
}

// Stream handles GET /vote/stream?productId=. Without productId the caller
// receives deltas for every product. Delivery is at-most-once; clients
// re-fetch counts after reconnecting.
func (h *StreamHandler) Stream(c fiber.Ctx) error {
	productID := ""
	if raw := c.Query("productId"); raw != "" {
		id, msg := middleware.ValidateProductID(raw)
		if msg != "" {
			return invalidRequest(c, msg)
		}
		productID = id
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := h.hub.Subscribe(productID)
	hub := h.hub
	heartbeat := h.heartbeat
	log := logger.Component("stream")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer hub.Unsubscribe(sub)

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case delta, ok := <-sub.Events():
				if !ok {
					return
				}
				data, err := json.Marshal(delta)
				if err != nil {
					log.Error().Err(err).Msg("encode delta")
					continue
				}
				fmt.Fprintf(w, "id: %d\nevent: delta\ndata: %s\n\n", delta.Version, data)
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				// Client went away.
				return
			}
		}
	})
}
