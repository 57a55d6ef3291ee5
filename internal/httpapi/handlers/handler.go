package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/sportlens/internal/app"
	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/chat"
	"github.com/suPer8Hu/sportlens/internal/common"
	"github.com/suPer8Hu/sportlens/internal/httpapi/middleware"
	"github.com/suPer8Hu/sportlens/internal/logger"
	"github.com/suPer8Hu/sportlens/internal/task"
)

type Handler struct {
	App *app.App
	log *logger.Logger
}

func NewHandler(a *app.App) *Handler {
	return &Handler{App: a, log: a.Log.With("service", "HTTPAPI")}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// fail maps domain errors onto the response envelope. Errors without a
// mapping are logged and reported as internal.
func (h *Handler) fail(c *gin.Context, err error) {
	var ue *task.UserError
	switch {
	case errors.Is(err, chat.ErrChatNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "chat not found")
	case errors.Is(err, task.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "task not found")
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, auth.ErrSessionExpired), errors.Is(err, task.ErrUnauthorized):
		common.Fail(c, http.StatusUnauthorized, 40101, "sign in required")
	case errors.As(err, &ue):
		status := ue.Status
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		common.Fail(c, status, 40001, ue.Message)
	default:
		h.log.Error("request failed", "path", c.FullPath(), "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) token(c *gin.Context) (string, bool) {
	sess, err := h.App.Sessions.Active(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return "", false
	}
	return sess.AccessToken, true
}
