package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/internal/auth"
	"github.com/satriahrh/voxbridge/internal/metrics"
	"github.com/satriahrh/voxbridge/internal/websocket"
)

const serviceName = "voxbridge"

// Authenticator resolves the user behind an upgrade request
type Authenticator interface {
	Authenticate(r *http.Request) (*entities.User, error)
}

// InitRoutes initializes all HTTP routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, authenticator Authenticator, m *metrics.Metrics, wsPath string, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:   "ok",
			Service:  serviceName,
			Sessions: hub.Count(),
		})
	})

	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// WebSocket endpoint with token validation
	e.GET(wsPath, func(c echo.Context) error {
		return websocketWithAuth(hub, authenticator, c, logger)
	})
}

// websocketWithAuth rejects the upgrade unless the request carries a valid token
func websocketWithAuth(hub *websocket.Hub, authenticator Authenticator, c echo.Context, logger *zap.Logger) error {
	user, err := authenticator.Authenticate(c.Request())
	if err != nil {
		status := auth.StatusCode(err)
		if status == http.StatusUnauthorized {
			logger.Warn("WebSocket connection rejected", zap.Error(err))
			return c.JSON(status, ErrorResponse{
				Error:   "unauthorized",
				Message: err.Error(),
			})
		}

		logger.Error("WebSocket authentication failed", zap.Error(err))
		return c.JSON(status, ErrorResponse{
			Error:   "internal_error",
			Message: "Authentication failed",
		})
	}

	logger.Info("WebSocket connection authenticated", zap.String("user_id", user.ID))

	return websocket.HandleWebSocket(hub, c, user)
}
