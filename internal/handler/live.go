package handler

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"torquedash/internal/livecache"
)

type LiveHandler struct {
	Cache        *livecache.Cache
	LiveOnlyMode bool
}

func (h *LiveHandler) List(c *gin.Context) {
	entries := h.Cache.List()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp > entries[j].Timestamp })

	now := h.Cache.Now().UnixMilli()
	sessions := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		sessions = append(sessions, gin.H{
			"sessionId":  e.SessionID,
			"email":      e.Email,
			"userId":     e.AccountID,
			"lastUpdate": e.Timestamp,
			"age":        now - e.Timestamp,
		})
	}

	mode := "normal"
	if h.LiveOnlyMode {
		mode = "live-only"
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "mode": mode, "count": len(sessions)})
}

func (h *LiveHandler) Get(c *gin.Context) {
	entry, ok := h.Cache.Get(c.Param("sessionId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found or expired from memory cache"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
