package handler

import (
	"blabberbox/backend/internal/chathub"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler містить посилання на ChatHub
type Handler struct {
	Hub       *chathub.ManagerService
	Store     Pinger
	JWTSecret []byte
	TokenTTL  time.Duration
}

func NewHandler(hub *chathub.ManagerService, store Pinger, jwtSecret string) *Handler {
	return &Handler{
		Hub:       hub,
		Store:     store,
		JWTSecret: []byte(jwtSecret),
		TokenTTL:  72 * time.Hour,
	}
}

// Register mounts the HTTP surface on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/anonid", h.GetAnonID)
	r.GET("/ws", h.ServeWebSocket)
	r.GET("/healthz", h.Healthz)
}

// Healthz pings the store.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "controllers": h.Hub.Count()})
}
