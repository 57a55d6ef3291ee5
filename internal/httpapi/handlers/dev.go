package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/sportlens/internal/common"
	"github.com/suPer8Hu/sportlens/internal/localstore"
)

func (h *Handler) devMode() bool {
	v, _ := h.App.Store.GetString(localstore.KeyDevMode)
	return v == "true"
}

// DevModeRequired hides the store inspection routes until dev mode is
// switched on for this profile.
func (h *Handler) DevModeRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.devMode() {
			common.Fail(c, http.StatusNotFound, 40400, "route not found")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (h *Handler) GetDevMode(c *gin.Context) {
	common.OK(c, gin.H{"enabled": h.devMode()})
}

type devModeReq struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) SetDevMode(c *gin.Context) {
	var req devModeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	var err error
	if req.Enabled {
		err = h.App.Store.SetString(localstore.KeyDevMode, "true", localstore.Notify)
	} else {
		err = h.App.Store.Remove(localstore.KeyDevMode, localstore.Notify)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"enabled": req.Enabled})
}

func (h *Handler) ListStoreKeys(c *gin.Context) {
	keys, err := h.App.Store.Keys()
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"keys": keys})
}

func (h *Handler) GetStoreValue(c *gin.Context) {
	key := c.Param("key")
	v, ok := h.App.Store.GetString(key)
	if !ok {
		common.Fail(c, http.StatusNotFound, 40403, "key not found")
		return
	}
	var data any = v
	if json.Valid([]byte(v)) {
		data = json.RawMessage(v)
	}
	common.OK(c, gin.H{"key": key, "value": data})
}

func (h *Handler) DeleteStoreValue(c *gin.Context) {
	if err := h.App.Store.Remove(c.Param("key"), localstore.Notify); err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"deleted": c.Param("key")})
}

func (h *Handler) MigrateIDs(c *gin.Context) {
	report, err := h.App.MigrateLegacyIDs()
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"report": report})
}
