package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liamcoop/textflow/pipeline"
	"github.com/liamcoop/textflow/workspace"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4 << 20
	wsOutputBuffer   = 16
)

// wsConn serializes writes to a websocket connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleWebsocket streams pipeline outputs of a workspace to the client and
// applies the edits the client sends back.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "workspace_id", ws.ID, "err", err)
		return
	}
	c := &wsConn{conn: conn}
	defer conn.Close()

	outputs, unsubscribe := ws.Subscribe(wsOutputBuffer)
	defer unsubscribe()

	// The request context ends once the handler returns control to the
	// hijacked connection, so the session gets its own.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.writeJSON(outputMessage(ws.LastOutput())); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(ctx, c, outputs)
	}()

	s.readLoop(ctx, c, ws)
	cancel()
	<-done
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn, outputs <-chan pipeline.Output) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-outputs:
			if !ok {
				c.mu.Lock()
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "workspace closed"),
					time.Now().Add(wsWriteWait))
				c.mu.Unlock()
				return
			}
			if err := c.writeJSON(outputMessage(out)); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn, ws *workspace.Workspace) {
	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", "workspace_id", ws.ID, "err", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.writeJSON(ServerMessage{Type: "error", Error: "invalid message: " + err.Error()})
			continue
		}
		if err := s.applyClientMessage(ctx, c, ws, msg); err != nil {
			_ = c.writeJSON(ServerMessage{Type: "error", Error: err.Error()})
		}
	}
}

func (s *Server) applyClientMessage(ctx context.Context, c *wsConn, ws *workspace.Workspace, msg ClientMessage) error {
	switch msg.Type {
	case "edit":
		content := ws.Editor()
		content.Text = msg.Text
		if msg.Language != "" {
			content.Language = msg.Language
		}
		return ws.Edit(ctx, content)
	case "select":
		return ws.SelectFlow(ctx, msg.FlowID)
	case "mode":
		if msg.RealTime == nil {
			return fmt.Errorf("mode message requires realTime")
		}
		ws.SetRealTime(*msg.RealTime)
		return nil
	case "process":
		// The output also reaches this client through its subscription.
		_, err := ws.Process()
		return err
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}
