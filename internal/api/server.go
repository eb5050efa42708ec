// Package api exposes the REST surface: inbound message routing, event
// dispatch, session control, and the manual executor trigger. The core
// never depends on this layer.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/camdenward/leadline/internal/control"
	"github.com/camdenward/leadline/internal/dispatch"
	"github.com/camdenward/leadline/internal/router"
	"github.com/camdenward/leadline/internal/sequencer"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB         *gorm.DB
	Port       int
	Router     *router.Router
	Dispatcher *dispatch.Dispatcher
	Sequencer  *sequencer.Sequencer
	Controller *control.Controller
	Out        io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("api: db is required")
	}
	if opts.Router == nil {
		return fmt.Errorf("api: router is required")
	}
	if opts.Dispatcher == nil {
		return fmt.Errorf("api: dispatcher is required")
	}
	if opts.Sequencer == nil {
		return fmt.Errorf("api: sequencer is required")
	}
	if opts.Controller == nil {
		return fmt.Errorf("api: controller is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	registerRoutes(engine, opts)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
