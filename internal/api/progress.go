package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"scenecraft/internal/progress"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// progressSocket streams progress snapshots until the run reaches a
// terminal stage or the client goes away. The stored checkpoint is sent
// first and re-read every poll interval so a missed publish is recovered.
func (s *Server) progressSocket(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var updates <-chan progress.Snapshot
	if s.deps.Publisher != nil {
		ch, stop, err := s.deps.Publisher.Subscribe(ctx, project.ID)
		if err != nil {
			s.logger.Warn("Progress subscription failed, falling back to polling",
				zap.String("project_id", project.ID), zap.Error(err))
		} else {
			defer stop()
			updates = ch
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// reader detects the client closing the socket
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(snap progress.Snapshot) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			return false
		}
		return !snap.Stage.Terminal()
	}

	if !send(progress.FromProject(project)) {
		s.closeSocket(conn)
		return
	}

	ticker := time.NewTicker(s.options.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if !send(snap) {
				s.closeSocket(conn)
				return
			}
		case <-ticker.C:
			current, err := s.deps.Repo.GetProjectByID(ctx, project.ID)
			if err != nil {
				continue
			}
			if snap := progress.FromProject(current); snap.Stage.Terminal() {
				send(snap)
				s.closeSocket(conn)
				return
			}
		}
	}
}

func (s *Server) closeSocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
