package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/joe/pkg/chat"
	"github.com/harun/joe/pkg/conversation"
	"github.com/harun/joe/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 64 * 1024
)

// clientFrame is sent by the browser
type clientFrame struct {
	Type string `json:"type"` // submit, stop, reset
	Text string `json:"text,omitempty"`
}

// serverFrame is pushed to the browser
type serverFrame struct {
	Type         string                `json:"type"` // message, state, notification
	Message      *conversation.Message `json:"message,omitempty"`
	Busy         *bool                 `json:"busy,omitempty"`
	SessionID    string                `json:"sessionId,omitempty"`
	Notification *chat.Notification    `json:"notification,omitempty"`
}

// wsConn is one browser tab talking to its own chat.Client
type wsConn struct {
	id     string
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
	client  *chat.Client
}

func (c *wsConn) send(f serverFrame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(f); err != nil {
		c.logger.Debug().Err(err).Str("type", f.Type).Msg("Failed to send frame")
	}
}

func (c *wsConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *wsConn) notify(title, description string, severity chat.Severity) {
	c.send(serverFrame{Type: "notification", Notification: &chat.Notification{
		Title: title, Description: description, Severity: severity,
	}})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, _ := gonanoid.New()
	c := &wsConn{
		id:     id,
		conn:   conn,
		logger: s.logger.With().Str("conn_id", id).Logger(),
	}

	// The transcript lives as long as the connection
	client, err := chat.New(chat.Config{
		Generator: s.queued(),
		Store:     session.NewMemoryStore(),
		Profile:   id,
		Logger:    c.logger,
		Metrics:   s.metrics,
		Notifier:  chat.NotifierFunc(func(n chat.Notification) { c.send(serverFrame{Type: "notification", Notification: &n}) }),
		OnMessage: func(m conversation.Message) { c.send(serverFrame{Type: "message", Message: &m}) },
		OnBusy:    func(bool) { c.sendState() },
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create chat client")
		conn.Close()
		return
	}
	c.client = client

	s.conns.Add(1)
	s.metrics.AddWSConnections(1)
	c.logger.Info().Str("ip", r.RemoteAddr).Msg("Client connected")

	go s.serveConn(c)
}

func (s *Server) serveConn(c *wsConn) {
	ctx, cancel := context.WithCancel(s.connCtx)
	var submits sync.WaitGroup

	defer func() {
		cancel()
		c.client.Stop()
		submits.Wait()
		c.conn.Close()
		s.metrics.AddWSConnections(-1)
		s.conns.Done()
		c.logger.Info().Msg("Client disconnected")
	}()

	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Unblocks ReadMessage on server shutdown
				_ = c.conn.SetReadDeadline(time.Now())
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					return
				}
			}
		}
	}()

	c.sendState()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}

		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.notify("Invalid message", "Frames must be JSON objects", chat.SeverityError)
			continue
		}

		switch f.Type {
		case "submit":
			submits.Add(1)
			go func(text string) {
				defer submits.Done()
				c.submit(ctx, text)
			}(f.Text)
		case "stop":
			c.client.Stop()
		case "reset":
			if err := c.client.Reset(ctx); err != nil {
				c.notify("Reset failed", chat.Summary(err), chat.SeverityError)
				continue
			}
			c.sendState()
		default:
			c.notify("Invalid message", "Unknown frame type", chat.SeverityError)
		}
	}
}

// submit runs one submission; state and message frames come from the client
// callbacks, rejections are reported here
func (c *wsConn) submit(ctx context.Context, text string) {
	err := c.client.Submit(ctx, text)
	if errors.Is(err, chat.ErrEmptyInput) || errors.Is(err, chat.ErrBusy) {
		c.notify("Not sent", chat.Summary(err), chat.SeverityInfo)
	}
}

func (c *wsConn) sendState() {
	busy := c.client.IsBusy()
	c.send(serverFrame{Type: "state", Busy: &busy, SessionID: c.client.Handle().String()})
}
