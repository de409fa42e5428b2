package web

import (
	"context"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cjeanneret/RaspiCam/internal/emitter"
	"github.com/cjeanneret/RaspiCam/internal/ledger"
	"github.com/cjeanneret/RaspiCam/internal/logic/capture"
)

const (
	defaultCaptureLimit = 20
	maxCaptureLimit     = 500
)

// Controller is the part of capture.Controller the handlers use.
type Controller interface {
	Status() capture.Status
	Trigger() bool
}

// CaptureLister returns recorded captures, newest first.
type CaptureLister interface {
	List(ctx context.Context, limit int) ([]ledger.Entry, error)
}

// EmitterStats reports the event emitter's counters.
type EmitterStats interface {
	Stats() emitter.Stats
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Controller  Controller    // nil: /status and /trigger return 503
	Captures    CaptureLister // nil: /captures returns 503
	Emitter     EmitterStats  // nil: /status has no mqtt section
	staticFS    fs.FS
}

// statusResponse is capture.Status plus the optional emitter counters.
type statusResponse struct {
	capture.Status
	MQTT *emitter.Stats `json:"mqtt,omitempty"`
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, ctrl Controller, captures CaptureLister, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Controller:  ctrl,
		Captures:    captures,
		staticFS:    staticFS,
	}
}

// ServeIndex serves the main HTML page.
func (h *Handlers) ServeIndex(c *gin.Context) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		c.String(http.StatusNotFound, "not found")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", data)
}

// HandleStatus returns the controller status as JSON.
func (h *Handlers) HandleStatus(c *gin.Context) {
	if h.Controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture controller not running"})
		return
	}
	resp := statusResponse{Status: h.Controller.Status()}
	if h.Emitter != nil {
		st := h.Emitter.Stats()
		resp.MQTT = &st
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCaptures returns the most recent ledger rows. ?limit=N, 1-500.
func (h *Handlers) HandleCaptures(c *gin.Context) {
	if h.Captures == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture ledger not configured"})
		return
	}

	limit := defaultCaptureLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxCaptureLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	entries, err := h.Captures.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// HandleTrigger queues a manual capture. The controller still applies the
// cooldown when it picks the request up.
func (h *Handlers) HandleTrigger(c *gin.Context) {
	if h.Controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture controller not running"})
		return
	}
	if !h.Controller.Trigger() {
		c.JSON(http.StatusConflict, gin.H{"error": "trigger already pending"})
		return
	}
	h.Broadcaster.BroadcastMsg("Manual capture requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(c *gin.Context) {
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.WriteHeader(http.StatusOK)
	w.WriteString(": connected\n\n")
	w.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.WriteString("data: " + msg + "\n\n")
			w.Flush()

		case <-ticker.C:
			w.WriteString(": heartbeat\n\n")
			w.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
