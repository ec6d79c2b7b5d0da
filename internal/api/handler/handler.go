package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/queue"
	"github.com/cuongbtq/media-pipeline/internal/review"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Store        *storage.Storage
	Queue        *queue.Queue
	Pipeline     *pipeline.Service
	Review       *review.Service
	HealthChecks map[string]func(context.Context) error
}

// SetActor stores the authenticated caller on the request context
func SetActor(c *gin.Context, actor domain.Actor) {
	c.Set(actorKey, actor)
}

// ActorFrom returns the caller, anonymous when none was set
func ActorFrom(c *gin.Context) domain.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(domain.Actor); ok {
			return actor
		}
	}
	return domain.Actor{}
}

// StatusFor maps a domain error to its HTTP status and short code
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrVisibilityBlocked):
		return http.StatusForbidden, "visibility_blocked"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidJobType):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrExternalService):
		return http.StatusBadGateway, "external_service_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes err as JSON. Internal errors are logged and not exposed.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		message = "internal server error"
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error": message,
		"code":  code,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": message,
		"code":  "validation_error",
	})
}
