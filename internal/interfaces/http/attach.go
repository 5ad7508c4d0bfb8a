package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// streamInterval is how often the scrollback snapshot is pushed to a
// connected dashboard client; matches the attach TUI's own poll tick
// so both surfaces see the run at the same cadence.
const streamInterval = 2 * time.Second

type attachFrame struct {
	Active     bool   `json:"active"`
	Status     string `json:"status"`
	Scrollback string `json:"scrollback"`
}

// handleAttachStream upgrades to a websocket and pushes an attachFrame
// every streamInterval until the client disconnects or the server
// shuts down. One-way (server -> client); the dashboard is read-only.
func (s *Server) handleAttachStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("attach stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active, statusLine, scrollback := s.engine.Status()
			frame := attachFrame{Active: active, Status: statusLine, Scrollback: scrollback}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}
