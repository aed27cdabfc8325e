package chathub

import (
	"blabberbox/backend/internal/models"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// WebSocketClient реалізує інтерфейс chathub.Client
type WebSocketClient struct {
	UserID     string
	Conn       *websocket.Conn
	Hub        *ManagerService
	Controller *Controller
	Send       chan models.Event

	closeOnce sync.Once
	writeMu   sync.Mutex
}

func NewWebSocketClient(userID string, conn *websocket.Conn, hub *ManagerService) *WebSocketClient {
	return &WebSocketClient{
		UserID: userID,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan models.Event, sendBuffer),
	}
}

func (c *WebSocketClient) GetUserID() string                     { return c.UserID }
func (c *WebSocketClient) GetSendChannel() chan<- models.Event { return c.Send }

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close закриває Send канал (що зупинить writePump)
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

type commandReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (c *WebSocketClient) readPump() {
	defer func() {
		if c.Controller != nil {
			c.Hub.Detach(c.Controller)
		}
		c.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error reading message: %v", err)
			}
			break
		}

		var cmd models.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			log.Printf("Error decoding JSON from client %s: %v", c.UserID, err)
			continue
		}
		if c.Controller == nil {
			continue
		}

		if err := c.Controller.Dispatch(cmd); err != nil {
			if !errors.Is(err, ErrEmptyMessage) && !errors.Is(err, ErrUnknownCommand) {
				log.Printf("ERROR: Command %s from %s failed: %v", cmd.Type, c.UserID, err)
			}
			c.reply(commandReply{Type: "error", Error: err.Error()})
		}
	}
}

// reply пишеться напряму, бо Send належить контролеру.
func (c *WebSocketClient) reply(r commandReply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		log.Printf("WARNING: Failed to write reply to %s: %v", c.UserID, err)
	}
}

func (c *WebSocketClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

// writePump читає події з каналу Send і записує їх у WebSocket.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("Error encoding JSON for client %s: %v", c.UserID, err)
				continue
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
