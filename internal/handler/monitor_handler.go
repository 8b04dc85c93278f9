package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/educaition/station/internal/monitor"
)

// buildUpgrader creates a WebSocket upgrader with origin validation. An
// empty allow list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// MonitorHandler upgrades proctor dashboard connections onto the event
// hub.
type MonitorHandler struct {
	hub      *monitor.Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewMonitorHandler creates a MonitorHandler.
func NewMonitorHandler(hub *monitor.Hub, allowedOrigins []string, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		hub:      hub,
		upgrader: buildUpgrader(allowedOrigins),
		log:      log.With().Str("component", "monitor_handler").Logger(),
	}
}

// Stream upgrades the connection and blocks until the dashboard leaves.
func (h *MonitorHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.hub.Serve(conn)
}
