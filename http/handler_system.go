package http

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"jabberwocky238/bindzone/storage"
)

var startTime = time.Now()

// ZoneStatus is the per-zone part of GET /status.
type ZoneStatus struct {
	Zone    string `json:"zone"`
	File    string `json:"file"`
	Default bool   `json:"default,omitempty"`
	Serial  uint32 `json:"serial,omitempty"`
	Records int    `json:"records,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SystemHandler serves health and status endpoints.
type SystemHandler struct {
	zones *storage.Registry
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(zones *storage.Registry) *SystemHandler {
	return &SystemHandler{zones: zones}
}

// Health handles GET /health. It fails with 503 when any zone file no
// longer parses.
func (h *SystemHandler) Health(c *gin.Context) {
	for _, e := range h.zones.Engines() {
		if _, err := e.Health(c.Request.Context()); err != nil {
			Fail(c, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	OK(c, gin.H{"status": "ok"})
}

// Status handles GET /status and returns runtime and per-zone information.
func (h *SystemHandler) Status(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	def := h.zones.DefaultZone()
	zones := make([]ZoneStatus, 0)
	for _, e := range h.zones.Engines() {
		st := ZoneStatus{Zone: e.Zone(), File: e.Path(), Default: e.Zone() == def}
		if res, err := e.Health(c.Request.Context()); err != nil {
			st.Error = err.Error()
		} else {
			st.Serial, st.Records = res.Serial, res.Records
		}
		zones = append(zones, st)
	}

	OK(c, gin.H{
		"uptime":      time.Since(startTime).String(),
		"goroutines":  runtime.NumGoroutine(),
		"go_version":  runtime.Version(),
		"alloc_bytes": mem.Alloc,
		"zones":       zones,
	})
}
