package handler

import (
	"blabberbox/backend/internal/chathub"
	"blabberbox/backend/internal/localstate"
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Дозволяє з'єднання з будь-якого домену. У продакшені налаштувати!
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bearerToken reads the token from the Authorization header, falling back to
// the "token" query parameter (browsers cannot set headers on WebSocket).
func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Query("token")
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket. The optional "session"
// query parameter is the client's session pointer used for resumption.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	tokenString := bearerToken(c)
	if tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return
	}

	anonID, err := h.validateAndGetAnonID(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ERROR: WebSocket upgrade for %s failed: %v", anonID, err)
		return
	}

	client := chathub.NewWebSocketClient(anonID, conn, h.Hub)
	pointer := localstate.NewMemory(c.Query("session"))

	// The controller outlives the HTTP request.
	controller, err := h.Hub.Attach(context.Background(), c.Query("name"), pointer, client)
	if err != nil {
		log.Printf("ERROR: Failed to attach controller for %s: %v", anonID, err)
		client.Close()
		conn.Close()
		return
	}
	client.Controller = controller
	client.Run()
}
