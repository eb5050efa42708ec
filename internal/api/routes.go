package api

import "github.com/gin-gonic/gin"

// registerRoutes sets up all API routes on the gin engine.
func registerRoutes(engine *gin.Engine, opts StartOpts) {
	engine.GET("/health", handleHealth())

	apiGroup := engine.Group("/api")
	{
		apiGroup.POST("/messages", handleRouteMessage(opts.Router))
		apiGroup.POST("/events/:type", handleDispatchEvent(opts.Dispatcher))
		apiGroup.POST("/tasks/execute", handleExecuteTasks(opts.Sequencer))

		apiGroup.GET("/sessions/:id", handleGetSession(opts.DB))
		apiGroup.POST("/sessions/:id/takeover", handleTakeover(opts.Controller))
		apiGroup.POST("/sessions/:id/release", handleRelease(opts.Controller))
		apiGroup.POST("/sessions/:id/end", handleEnd(opts.Controller))
	}
}
