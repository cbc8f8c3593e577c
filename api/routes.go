package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes mounts the REST API. Middleware order: CORS, then auth.
func SetupRoutes(router *gin.Engine, h *Handlers, cors CORSPolicy, auth *TokenVerifier) {
	router.Use(CORSMiddleware(cors))
	router.Use(AuthMiddleware(auth))

	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.GET("/health", h.Health)

		devices := api.Group("/devices")
		{
			devices.GET("", h.ListDevices)
			devices.GET("/:id", h.GetDevice)
			devices.GET("/:id/screenshot", h.Screenshot)
			devices.GET("/:id/orientation", h.GetOrientation)
			devices.POST("/:id/orientation", h.SetOrientation)
			devices.GET("/:id/elements", h.ListElements)

			devices.GET("/:id/apps", h.ListApps)
			devices.POST("/:id/apps/install", h.InstallApp)
			devices.POST("/:id/apps/:pkg/launch", h.LaunchApp)
			devices.POST("/:id/apps/:pkg/terminate", h.TerminateApp)
			devices.DELETE("/:id/apps/:pkg", h.UninstallApp)

			devices.POST("/:id/tap", h.Tap)
			devices.POST("/:id/longpress", h.LongPress)
			devices.POST("/:id/swipe", h.Swipe)
			devices.POST("/:id/keys", h.SendKeys)
			devices.POST("/:id/button", h.PressButton)

			devices.POST("/:id/script", h.RunScript)
			devices.POST("/:id/script/abort", h.AbortScript)
			devices.GET("/:id/history", h.History)
		}
	}
}

// SetupWebSocketRoutes mounts the realtime hub on its own engine, served on
// the WebSocket port.
func SetupWebSocketRoutes(router *gin.Engine, hub *WebSocketHub, auth *TokenVerifier) {
	handler := func(c *gin.Context) {
		HandleWebSocket(hub, c)
	}
	ws := router.Group("/", WebSocketAuth(auth))
	ws.GET("/", handler)
	ws.GET("/ws", handler)
}
