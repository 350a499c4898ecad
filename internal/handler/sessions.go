package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"torquedash/internal/middleware"
	"torquedash/internal/model"
	"torquedash/internal/sensors"
	"torquedash/internal/store"
)

type SessionHandler struct {
	Store  store.Store
	Logger *slog.Logger
}

func sessionJSON(sess model.Session) gin.H {
	latest := sess.Latest
	if latest.Values == nil {
		latest.Values = map[string]string{}
	}
	return gin.H{
		"sessionId":     sess.Token,
		"name":          sess.Name,
		"startLocation": sess.StartLocation,
		"endLocation":   sess.EndLocation,
		"latestData":    latest,
		"createdAt":     sess.CreatedAt,
		"updatedAt":     sess.UpdatedAt,
	}
}

func recordJSON(rec model.TelemetryRecord) gin.H {
	return gin.H{
		"id":        rec.ID,
		"timestamp": rec.Timestamp,
		"lon":       rec.Lon,
		"lat":       rec.Lat,
		"values":    rec.Values,
		"createdAt": rec.CreatedAt,
	}
}

func (h *SessionHandler) List(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}
	h.writeSessions(c, accountID)
}

func (h *SessionHandler) writeSessions(c *gin.Context, accountID string) {
	sessions, err := h.Store.ListSessions(c.Request.Context(), accountID)
	if err != nil {
		h.internalError(c, "list sessions", err)
		return
	}
	resp := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, sessionJSON(sess))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}

// Active returns the session that most recently received a reading.
func (h *SessionHandler) Active(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	sessions, err := h.Store.ListSessions(c.Request.Context(), accountID)
	if err != nil {
		h.internalError(c, "list sessions", err)
		return
	}
	if len(sessions) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sessionJSON(sessions[0])})
}

func (h *SessionHandler) Get(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}
	h.writeSessionDetail(c, accountID, c.Param("sessionId"))
}

func (h *SessionHandler) writeSessionDetail(c *gin.Context, accountID, token string) {
	ctx := c.Request.Context()
	sess, ok := h.ownedSession(c, accountID, token)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	records, err := h.Store.ListRecords(ctx, sess.ID, limit)
	if err != nil {
		h.internalError(c, "list records", err)
		return
	}
	total, err := h.Store.CountRecords(ctx, sess.ID)
	if err != nil {
		h.internalError(c, "count records", err)
		return
	}

	resp := make([]gin.H, 0, len(records))
	for _, rec := range records {
		resp = append(resp, recordJSON(rec))
	}
	c.JSON(http.StatusOK, gin.H{"session": sessionJSON(sess), "records": resp, "total": total})
}

// Sensors lists the keys of the latest reading with their display names,
// for mapping sensors onto dashboard widgets.
func (h *SessionHandler) Sensors(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	sess, ok := h.ownedSession(c, accountID, c.Param("sessionId"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.Token,
		"timestamp": sess.Latest.Timestamp,
		"sensors":   sensors.Describe(sess.Latest.Values),
	})
}

func (h *SessionHandler) Delete(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	err := h.Store.DeleteSession(c.Request.Context(), accountID, c.Param("sessionId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		h.internalError(c, "delete session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *SessionHandler) SharedList(c *gin.Context) {
	acc, ok := h.sharedAccount(c)
	if !ok {
		return
	}
	h.writeSessions(c, acc.ID)
}

func (h *SessionHandler) SharedGet(c *gin.Context) {
	acc, ok := h.sharedAccount(c)
	if !ok {
		return
	}
	h.writeSessionDetail(c, acc.ID, c.Param("sessionId"))
}

func (h *SessionHandler) sharedAccount(c *gin.Context) (model.Account, bool) {
	acc, err := h.Store.AccountByShareID(c.Request.Context(), c.Param("shareId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Shared data not found"})
		return model.Account{}, false
	}
	if err != nil {
		h.internalError(c, "lookup share id", err)
		return model.Account{}, false
	}
	return acc, true
}

// ownedSession writes the error response itself when it returns false.
// Sessions of other accounts look exactly like missing ones.
func (h *SessionHandler) ownedSession(c *gin.Context, accountID, token string) (model.Session, bool) {
	sess, err := h.Store.SessionByToken(c.Request.Context(), token)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sess.AccountID != accountID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return model.Session{}, false
	}
	if err != nil {
		h.internalError(c, "lookup session", err)
		return model.Session{}, false
	}
	return sess, true
}

func (h *SessionHandler) internalError(c *gin.Context, op string, err error) {
	logger(h.Logger).Error(op, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
}
