package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/sportlens/internal/common"
	"github.com/suPer8Hu/sportlens/internal/localstore"
)

// GetSettings returns the stored settings object for one feature, or null
// when the feature has none.
func (h *Handler) GetSettings(c *gin.Context) {
	var v json.RawMessage
	if _, err := h.App.Store.GetJSON(localstore.SettingsKey(c.Param("feature")), &v); err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"feature": c.Param("feature"), "settings": v})
}

func (h *Handler) PutSettings(c *gin.Context) {
	var v map[string]any
	if err := c.ShouldBindJSON(&v); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.App.Store.SetJSON(localstore.SettingsKey(c.Param("feature")), v, localstore.Notify); err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"feature": c.Param("feature"), "settings": v})
}
