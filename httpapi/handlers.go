package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/YallaPapi/i2v-sub001/engine"
	"github.com/YallaPapi/i2v-sub001/errors"
	"github.com/YallaPapi/i2v-sub001/events"
	"github.com/YallaPapi/i2v-sub001/logger"
	"github.com/YallaPapi/i2v-sub001/pipeline"
	"github.com/YallaPapi/i2v-sub001/validation"
)

// Handler serves the pipeline API.
type Handler struct {
	engine *engine.Engine
	store  pipeline.Store
	hub    *events.Hub
	log    *logger.Logger
}

// NewHandler wires the API onto the engine and its store.
func NewHandler(eng *engine.Engine, store pipeline.Store, hub *events.Hub, log *logger.Logger) *Handler {
	return &Handler{
		engine: eng,
		store:  store,
		hub:    hub,
		log:    log.WithComponent("httpapi"),
	}
}

// Register mounts all routes.
func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/pipelines", h.createPipeline)
		api.POST("/pipelines/estimate", h.estimatePipeline)
		api.GET("/pipelines", h.listPipelines)
		api.GET("/pipelines/:id", h.getPipeline)
		api.DELETE("/pipelines/:id", h.deletePipeline)

		api.POST("/pipelines/:id/run", h.command(h.engine.Run))
		api.POST("/pipelines/:id/pause", h.command(h.engine.Pause))
		api.POST("/pipelines/:id/resume", h.command(h.engine.Resume))
		api.POST("/pipelines/:id/cancel", h.command(h.engine.Cancel))
		api.POST("/pipelines/:id/approve", h.command(h.engine.Approve))

		api.GET("/pipelines/:id/events", h.streamEvents)
	}
}

func (h *Handler) createPipeline(c *gin.Context) {
	req, ok := h.bindCreateRequest(c)
	if !ok {
		return
	}

	p, steps, err := h.engine.Create(c.Request.Context(), req.toCreateRequest())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pipelineResponse{Pipeline: p, Steps: steps})
}

func (h *Handler) estimatePipeline(c *gin.Context) {
	req, ok := h.bindCreateRequest(c)
	if !ok {
		return
	}

	breakdown, err := h.engine.Estimate(req.toCreateRequest())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimateResponse{Estimate: breakdown})
}

func (h *Handler) listPipelines(c *gin.Context) {
	pipelines, err := h.store.ListPipelines(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Pipelines: pipelines, Count: len(pipelines)})
}

func (h *Handler) getPipeline(c *gin.Context) {
	id, ok := h.pipelineID(c)
	if !ok {
		return
	}

	p, err := h.store.GetPipeline(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	steps, err := h.store.ListSteps(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pipelineResponse{Pipeline: p, Steps: steps})
}

func (h *Handler) deletePipeline(c *gin.Context) {
	id, ok := h.pipelineID(c)
	if !ok {
		return
	}

	p, err := h.store.GetPipeline(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if p.Status == pipeline.StatusRunning {
		h.respondError(c, errors.Conflict("pipeline is running; cancel it first"))
		return
	}
	if err := h.store.DeletePipeline(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// command adapts an engine control method into a handler.
func (h *Handler) command(fn func(ctx context.Context, pipelineID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.pipelineID(c)
		if !ok {
			return
		}
		if err := fn(c.Request.Context(), id); err != nil {
			h.respondError(c, err)
			return
		}
		p, err := h.store.GetPipeline(c.Request.Context(), id)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, pipelineResponse{Pipeline: p})
	}
}

func (h *Handler) bindCreateRequest(c *gin.Context) (*createPipelineRequest, bool) {
	var req createPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errors.Validation("invalid request body: "+err.Error()))
		return nil, false
	}
	if err := validation.Validate(&req); err != nil {
		h.respondError(c, err)
		return nil, false
	}
	if appErr := req.validate(); appErr != nil {
		h.respondError(c, appErr)
		return nil, false
	}
	return &req, true
}

func (h *Handler) pipelineID(c *gin.Context) (string, bool) {
	id, err := validation.ValidateUUID("pipeline_id", c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	return id.String(), true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		h.log.Error("unhandled error", logger.ErrorFields(c.Request.URL.Path, err))
		appErr = errors.Internal(err)
	}
	c.AbortWithStatusJSON(errors.HTTPStatusFor(appErr), appErr.ToResponse())
}
