package router

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/segment-recolor/internal/api/handlers/job"
)

// Setup registers the job, health and metrics routes. metrics may be nil.
func Setup(h *job.Handler, metrics http.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.GET("/health", h.Health)
	if metrics != nil {
		r.GET("/metrics", func(c *ginext.Context) {
			metrics.ServeHTTP(c.Writer, c.Request)
		})
	}

	api := r.Group("/api")
	api.POST("/jobs", h.Run) // run a job synchronously

	return r
}
