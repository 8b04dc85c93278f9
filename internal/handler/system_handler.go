package handler

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/monitor"
	"github.com/educaition/station/internal/response"
	"github.com/educaition/station/internal/worker"
)

// SystemHandler reports station health: local database reachability,
// pending outbox deliveries, connected dashboards.
type SystemHandler struct {
	db        *sql.DB
	outbox    *worker.Outbox
	hub       *monitor.Hub
	deviceID  string
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(db *sql.DB, outbox *worker.Outbox, hub *monitor.Hub, deviceID string, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		outbox:    outbox,
		hub:       hub,
		deviceID:  deviceID,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthBody struct {
	Status         string `json:"status"`
	DeviceID       string `json:"device_id"`
	Uptime         string `json:"uptime"`
	PendingSyncs   int    `json:"pending_syncs"`
	MonitorClients int    `json:"monitor_clients"`
}

// Health answers liveness probes and the proctor dashboard's status tile.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.db.PingContext(ctx); err != nil {
		h.log.Error().Err(err).Msg("Local database unreachable")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}

	pending, err := h.outbox.Pending(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Outbox count failed")
		pending = -1
	}

	response.Success(c, http.StatusOK, healthBody{
		Status:         "ok",
		DeviceID:       h.deviceID,
		Uptime:         time.Since(h.startTime).Round(time.Second).String(),
		PendingSyncs:   pending,
		MonitorClients: h.hub.ClientCount(),
	})
}
