package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"torquedash/internal/ingest"
)

type UploadHandler struct {
	Ingest *ingest.Service
	Logger *slog.Logger
}

// Upload answers the Torque client with a short plain-text status. The
// client retries on anything but 200 and 409.
func (h *UploadHandler) Upload(c *gin.Context) {
	reading := ingest.ParseReading(c.Request.URL.Query())

	res, err := h.Ingest.Ingest(c.Request.Context(), reading)
	switch {
	case errors.Is(err, ingest.ErrUnknownAccount):
		c.String(http.StatusForbidden, "Invalid user account.")
		return
	case errors.Is(err, ingest.ErrMissingSession), errors.Is(err, ingest.ErrInvalidTime):
		c.String(http.StatusBadRequest, "Invalid request.")
		return
	case err != nil:
		logger(h.Logger).Error("upload failed", "session", reading.Session, "error", err)
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if res.Status == ingest.StatusDuplicate {
		c.String(http.StatusConflict, res.Message())
		return
	}
	c.String(http.StatusOK, res.Message())
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
