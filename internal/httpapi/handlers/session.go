package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/common"
)

type signInReq struct {
	AccessToken  string `json:"access_token" binding:"required"`
	RefreshToken string `json:"refresh_token"`
}

// SignIn adopts a session issued by the auth provider. Signing in as a new
// user starts guest task migration and a chat sync in the background.
func (h *Handler) SignIn(c *gin.Context) {
	var req signInReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sess, err := auth.SessionFromToken(req.AccessToken, req.RefreshToken, h.App.Cfg.JWTSecret)
	if err != nil {
		common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
		return
	}
	h.App.Sessions.SignIn(sess)
	common.OK(c, gin.H{"user_id": sess.UserID, "expires_at": sess.ExpiresAt})
}

func (h *Handler) SignOut(c *gin.Context) {
	h.App.Sessions.SignOut()
	common.OK(c, gin.H{"signed_in": false})
}

func (h *Handler) CurrentSession(c *gin.Context) {
	sess, ok := h.App.Sessions.Current()
	if !ok {
		common.OK(c, gin.H{"signed_in": false})
		return
	}
	common.OK(c, gin.H{"signed_in": true, "user_id": sess.UserID, "expires_at": sess.ExpiresAt})
}
