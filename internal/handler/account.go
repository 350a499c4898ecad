package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"torquedash/internal/middleware"
	"torquedash/internal/model"
	"torquedash/internal/store"
)

const maxForwardURLs = 10

type AccountHandler struct {
	Store        store.Store
	LiveOnlyMode bool
	Logger       *slog.Logger
}

func (h *AccountHandler) Settings(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"email":              acc.Email,
		"liveOnlyMode":       acc.LiveOnlyMode,
		"globalLiveOnlyMode": h.LiveOnlyMode,
		"forwardUrls":        forwardURLs(acc),
		"shareId":            acc.ShareID,
	})
}

type liveModeBody struct {
	LiveOnlyMode *bool `json:"liveOnlyMode"`
}

func (h *AccountHandler) UpdateLiveMode(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}

	var body liveModeBody
	if err := c.ShouldBindJSON(&body); err != nil || body.LiveOnlyMode == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "liveOnlyMode must be a boolean"})
		return
	}

	acc.LiveOnlyMode = *body.LiveOnlyMode
	if !h.save(c, acc) {
		return
	}

	msg := "Live-only mode disabled. Readings will be stored."
	if acc.LiveOnlyMode {
		msg = "Live-only mode enabled. Readings will not be stored."
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "liveOnlyMode": acc.LiveOnlyMode, "message": msg})
}

func (h *AccountHandler) ForwardURLs(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"forwardUrls": forwardURLs(acc)})
}

type forwardURLsBody struct {
	ForwardURLs []string `json:"forwardUrls"`
}

func (h *AccountHandler) UpdateForwardURLs(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}

	var body forwardURLsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if len(body.ForwardURLs) > maxForwardURLs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Too many forward URLs"})
		return
	}
	for _, raw := range body.ForwardURLs {
		if !validForwardURL(raw) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid forward URL", "url": raw})
			return
		}
	}

	acc.ForwardURLs = body.ForwardURLs
	if !h.save(c, acc) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "forwardUrls": forwardURLs(acc)})
}

func (h *AccountHandler) ShareID(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"shareId": acc.ShareID})
}

// ToggleShareID issues a fresh share id, or revokes the current one.
func (h *AccountHandler) ToggleShareID(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}

	if acc.ShareID != nil {
		acc.ShareID = nil
	} else {
		id := uuid.NewString()
		acc.ShareID = &id
	}
	if !h.save(c, acc) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "shareId": acc.ShareID})
}

func (h *AccountHandler) account(c *gin.Context) (model.Account, bool) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return model.Account{}, false
	}
	acc, err := h.Store.AccountByID(c.Request.Context(), accountID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return model.Account{}, false
	}
	if err != nil {
		logger(h.Logger).Error("lookup account", "account", accountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return model.Account{}, false
	}
	return acc, true
}

func (h *AccountHandler) save(c *gin.Context, acc model.Account) bool {
	acc.UpdatedAt = time.Now().UnixMilli()
	if err := h.Store.UpdateAccount(c.Request.Context(), acc); err != nil {
		logger(h.Logger).Error("update account", "account", acc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return false
	}
	return true
}

func forwardURLs(acc model.Account) []string {
	if acc.ForwardURLs == nil {
		return []string{}
	}
	return acc.ForwardURLs
}

func validForwardURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
