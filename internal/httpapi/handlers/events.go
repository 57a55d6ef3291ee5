package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/sportlens/internal/common"
	"github.com/suPer8Hu/sportlens/internal/localstore"
)

// StoreEvents streams local store changes as SSE so a UI can re-read the
// keys it renders. Notifications are coalesced per key when the client
// falls behind.
func (h *Handler) StoreEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50002, "streaming not supported")
		return
	}

	changes := make(chan localstore.Change, 32)
	unsubscribe := h.App.Store.Subscribe(func(ch localstore.Change) {
		// writers call this inline; never block them
		select {
		case changes <- ch:
		default:
		}
	})
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeJSON := func(event string, payload any) {
		b, _ := json.Marshal(payload)
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}
	writeJSON("ready", gin.H{"type": "ready"})

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case ch := <-changes:
			writeJSON("change", gin.H{"type": "change", "key": ch.Key})
		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
		case <-ctx.Done():
			return
		}
	}
}
