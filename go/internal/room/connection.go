package room

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool

	// MessageRate limits frames per second a connection may send; frames
	// over the limit are dropped. Zero disables the limit.
	MessageRate  rate.Limit
	MessageBurst int
	// UpgradeRate limits new connections per client address.
	UpgradeRate  rate.Limit
	UpgradeBurst int
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
		MessageRate:  20,
		MessageBurst: 40,
		UpgradeRate:  1,
		UpgradeBurst: 10,
	}
}

// wsConn adapts a websocket to Conn. Frames queued with Send are written by
// writePump; readPump feeds client frames to the manager.
type wsConn struct {
	id      string
	ws      *websocket.Conn
	config  ConnectionConfig
	manager *Manager
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool

	connectedAt time.Time
}

func newWSConn(ws *websocket.Conn, manager *Manager, config ConnectionConfig) *wsConn {
	c := &wsConn{
		id:          uuid.New().String(),
		ws:          ws,
		config:      config,
		manager:     manager,
		send:        make(chan []byte, config.SendBuffer),
		connectedAt: time.Now(),
	}
	if config.MessageRate > 0 {
		c.limiter = rate.NewLimiter(config.MessageRate, config.MessageBurst)
	}
	return c
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops the write pump after it flushes queued frames.
func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *wsConn) readPump() {
	defer func() {
		c.manager.Disconnect(c.id)
		c.Close()
		c.ws.Close()
		log.Debug().
			Str("connection_id", c.id).
			Dur("connected_for", time.Since(c.connectedAt)).
			Msg("WebSocket connection closed")
	}()

	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.limiter != nil && !c.limiter.Allow() {
			log.Warn().
				Str("connection_id", c.id).
				Msg("dropping frame over the message rate limit")
		} else {
			c.manager.HandleMessage(c.id, message)
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}
