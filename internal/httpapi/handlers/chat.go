package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/sportlens/internal/chat"
	"github.com/suPer8Hu/sportlens/internal/common"
)

func (h *Handler) ListChats(c *gin.Context) {
	common.OK(c, gin.H{
		"chats":           h.App.Chats.ListChats(),
		"current_chat_id": h.App.Chats.CurrentChatID(),
	})
}

type createChatReq struct {
	Settings *chat.Settings `json:"settings"`
}

func (h *Handler) CreateChat(c *gin.Context) {
	var req createChatReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	settings := chat.DefaultSettings()
	if req.Settings != nil {
		settings = req.Settings.Normalize()
	}
	created, out, err := h.App.Chats.CreateChat(c.Request.Context(), settings)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"chat": created, "outcome": out})
}

// GetChat returns the chat with message bodies, fetching them from the
// remote store when only metadata is cached.
func (h *Handler) GetChat(c *gin.Context) {
	got, err := h.App.Chats.OpenChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"chat": got})
}

func (h *Handler) SaveChat(c *gin.Context) {
	var in chat.Chat
	if err := c.ShouldBindJSON(&in); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	in.ID = c.Param("id")
	saved, out, err := h.App.Chats.SaveChat(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"chat": saved, "outcome": out})
}

type patchChatReq struct {
	Title    *string         `json:"title"`
	Messages *[]chat.Message `json:"messages"`
	Settings *chat.Settings  `json:"settings"`
}

func (h *Handler) UpdateChat(c *gin.Context) {
	var req patchChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	updated, out, err := h.App.Chats.UpdateChat(c.Request.Context(), c.Param("id"), chat.Patch{
		Title:    req.Title,
		Messages: req.Messages,
		Settings: req.Settings,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"chat": updated, "outcome": out})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	out, err := h.App.Chats.DeleteChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"outcome": out})
}

func (h *Handler) RefineTitle(c *gin.Context) {
	updated, out, err := h.App.Chats.RefineTitle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"chat": updated, "outcome": out})
}

func (h *Handler) Sync(c *gin.Context) {
	chats, out := h.App.Chats.SyncFromRemote(c.Request.Context())
	common.OK(c, gin.H{"chats": chats, "outcome": out})
}

func (h *Handler) GetCurrentChat(c *gin.Context) {
	common.OK(c, gin.H{"chat_id": h.App.Chats.CurrentChatID()})
}

type currentChatReq struct {
	ChatID string `json:"chat_id"`
}

func (h *Handler) SetCurrentChat(c *gin.Context) {
	var req currentChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.App.Chats.SetCurrentChat(req.ChatID); err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"chat_id": req.ChatID})
}

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	if h.App.Replies == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "no ai provider configured")
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	updated, out, err := h.App.Replies.Reply(c.Request.Context(), c.Param("id"), req.Message, nil)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"chat": updated, "outcome": out})
}

func (h *Handler) SendMessageStream(c *gin.Context) {
	if h.App.Replies == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "no ai provider configured")
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50002, "streaming not supported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	type result struct {
		chat chat.Chat
		out  chat.Outcome
		err  error
	}
	ctx := c.Request.Context()
	deltas := make(chan string, 16)
	done := make(chan result, 1)
	go func() {
		updated, out, err := h.App.Replies.Reply(ctx, c.Param("id"), req.Message, func(d string) {
			select {
			case deltas <- d:
			case <-ctx.Done():
			}
		})
		done <- result{chat: updated, out: out, err: err}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case d := <-deltas:
			writeJSON("chunk", gin.H{"type": "chunk", "delta": d})

		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})

		case res := <-done:
			// deltas sent before Reply returned are still buffered
		drain:
			for {
				select {
				case d := <-deltas:
					writeJSON("chunk", gin.H{"type": "chunk", "delta": d})
				default:
					break drain
				}
			}
			if res.err != nil {
				writeJSON("error", gin.H{"type": "error", "message": res.err.Error()})
				return
			}
			var messageID string
			if n := len(res.chat.Messages); n > 0 {
				messageID = res.chat.Messages[n-1].ID
			}
			writeJSON("done", gin.H{"type": "done", "message_id": messageID, "outcome": res.out})
			return

		case <-ctx.Done():
			return
		}
	}
}
