package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, verifier TokenVerifier) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	jobHandler := handler.NewJobHandler(deps)
	eventHandler := handler.NewEventHandler(deps)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(verifier, deps.Logger))
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Enqueue a generation job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List the caller's jobs
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/run - Run a pending job now
			jobs.POST("/:job_id/run", jobHandler.RunJob)
		}

		// GET /api/v1/events - Server-sent notification stream
		v1.GET("/events", eventHandler.StreamEvents)
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps.Checks))
		for name, checker := range deps.Checks {
			if err := checker.HealthCheck(ctx); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":  state,
			"service": deps.Service,
			"checks":  checks,
		})
	}
}
