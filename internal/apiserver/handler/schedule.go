package handler

import (
	"net/http"

	"github.com/amoylab/hostlink/internal/common/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SyncSchedules handles replacing the schedules of an action
func (h *Handler) SyncSchedules(c *gin.Context) {
	var req dto.SyncSchedulesRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.scheduler.Sync(c.Request.Context(), req.ActionID, req.Inputs)
	if err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	h.logger.Info("action schedules synced",
		zap.String("action", req.ActionID),
		zap.Int("created", res.Created),
		zap.Int("deleted", res.Deleted),
		zap.Int("skipped", res.Skipped))
	c.JSON(http.StatusOK, dto.SyncSchedulesResponse{
		Created: res.Created,
		Deleted: res.Deleted,
		Skipped: res.Skipped,
	})
}
