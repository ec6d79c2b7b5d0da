package router

import (
	"github.com/cuongbtq/media-pipeline/internal/api/auth"
	"github.com/cuongbtq/media-pipeline/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// ServiceName is reported by the health endpoint
const ServiceName = "media-pipeline-api"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, jwtService *auth.JWTService) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(ServiceName, deps)
	r.GET("/health", healthHandler.Health)

	jobHandler := handler.NewJobHandler(deps)
	recordingHandler := handler.NewRecordingHandler(deps)
	reviewHandler := handler.NewReviewHandler(deps)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(jwtService))
	{
		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		recordings := v1.Group("/recordings/:id")
		{
			recordings.POST("/transcriptions", recordingHandler.EnqueueTranscription)
			recordings.POST("/dubs", recordingHandler.EnqueueDubbing)
			recordings.PUT("/visibility", recordingHandler.SetVisibility)
			recordings.GET("/segments", recordingHandler.ListSegments)
			recordings.GET("/dubs", recordingHandler.ListDubs)
			recordings.GET("/review-tasks", recordingHandler.ListReviewTasks)
		}

		tasks := v1.Group("/review-tasks")
		{
			tasks.POST("", reviewHandler.CreateTask)
			tasks.GET("/:id", reviewHandler.GetTask)
			tasks.POST("/:id/assign", reviewHandler.AssignTask)
			tasks.POST("/:id/approve", reviewHandler.ApproveTask)
			tasks.POST("/:id/reject", reviewHandler.RejectTask)
		}
	}

	return r
}
