package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const streamWriteWait = 10 * time.Second

// HandleStream upgrades to a WebSocket and pushes watchlist quotes on a
// fixed interval until the client disconnects. The first frame is sent
// immediately so new clients don't wait a full tick.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin policy is enforced by the CORS layer
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// CloseRead surfaces client disconnects through ctx since the stream
	// never expects inbound frames.
	ctx := conn.CloseRead(r.Context())
	h.log.Debug().Msg("Watchlist stream opened")

	if err := h.pushQuotes(ctx, conn); err != nil {
		return
	}

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := h.pushQuotes(ctx, conn); err != nil {
				h.log.Debug().Err(err).Msg("Watchlist stream closed")
				return
			}
		}
	}
}

func (h *Handler) pushQuotes(ctx context.Context, conn *websocket.Conn) error {
	quotes, err := h.service.WatchlistQuotes(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to build watchlist quotes for stream")
		return nil // transient; keep the connection
	}
	payload, err := json.Marshal(map[string]interface{}{
		"quotes": quotes,
		"as_of":  time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
