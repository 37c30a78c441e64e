package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/parley-chat/parley-server/internal/gateway"
)

// GatewayHandler serves the WebSocket upgrade endpoint for the real-time gateway.
type GatewayHandler struct {
	gateway *gateway.Gateway
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(gw *gateway.Gateway) *GatewayHandler {
	return &GatewayHandler{gateway: gw}
}

// Upgrade handles GET /gateway/v1. It upgrades the HTTP connection to a WebSocket and hands it to the connection
// pipeline.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		h.gateway.ServeWebSocket(conn.Conn)
	})(c)
}
