package handler

import (
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/orchestrator"
	"github.com/amoylab/hostlink/internal/registry"
	"github.com/amoylab/hostlink/internal/scheduler"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the internal API used by the dashboard backend
type Handler struct {
	logger       *zap.Logger
	store        storage.Store
	orch         *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	registry     registry.Store
	errorHandler *errorx.ErrorHandler
}

func NewHandler(logger *zap.Logger, store storage.Store, orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, reg registry.Store) *Handler {
	return &Handler{
		logger:       logger.Named("apiserver.handler"),
		store:        store,
		orch:         orch,
		scheduler:    sched,
		registry:     reg,
		errorHandler: errorx.NewErrorHandler(logger),
	}
}

// bind decodes the JSON body into req and answers 400 when it does not fit
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.errorHandler.HandleError(c, errorx.Wrap(errorx.ErrInvalidInput, err, "request body"))
		return false
	}
	return true
}
