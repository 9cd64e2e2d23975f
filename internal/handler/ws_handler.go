package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"servicehub/request-service/internal/realtime"
)

type WSHandler struct {
	gateway  *realtime.Gateway
	upgrader websocket.Upgrader
}

func NewWSHandler(gateway *realtime.Gateway, allowedOrigins map[string]bool) *WSHandler {
	return &WSHandler{
		gateway: gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigins[origin]
			},
		},
	}
}

// Connect upgrades the HTTP request to a websocket and hands it to the
// gateway. Authentication already happened in the middleware chain.
func (h *WSHandler) Connect(c *gin.Context) {
	userID := c.GetString("userID")
	role := c.GetString("role")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[HUB] Upgrade failed for user %s: %v", userID, err)
		return
	}

	h.gateway.HandleConnection(c.Request.Context(), conn, userID, role)
}
