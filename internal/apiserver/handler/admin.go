package handler

import (
	"net/http"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListConnections handles dumping the in-memory registry
func (h *Handler) ListConnections(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Snapshot())
}

// EvictConnection handles closing a connection by id, optionally blocking it
func (h *Handler) EvictConnection(c *gin.Context) {
	var req dto.EvictConnectionRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	id := c.Param("id")
	reason := req.Reason
	if reason == "" {
		reason = "evicted"
	}
	evicted := h.registry.Evict(id, cnst.ClosePolicyViolation, reason, req.Block)
	h.logger.Info("connection evicted",
		zap.String("connection", id),
		zap.Bool("live", evicted),
		zap.Bool("blocked", req.Block))
	c.JSON(http.StatusOK, dto.EvictConnectionResponse{Evicted: evicted, Blocked: req.Block})
}

// UnblockConnection handles lifting a block on a connection id
func (h *Handler) UnblockConnection(c *gin.Context) {
	h.registry.Unblock(c.Param("id"))
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}
