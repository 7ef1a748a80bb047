package handler

import (
	"net/http"

	"github.com/amoylab/hostlink/internal/common/dto"
	"github.com/amoylab/hostlink/internal/orchestrator"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CreateTransaction handles creating a PENDING transaction bound to a resolved host
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req dto.CreateTransactionRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.User(ctx, req.OwnerID); err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}

	tx, err := h.orch.CreateTransaction(ctx, orchestrator.CreateInput{ActionID: req.ActionID, OwnerID: req.OwnerID})
	if err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CreateTransactionResponse{
		ID:             tx.ID,
		Status:         string(tx.Status),
		HostInstanceID: tx.HostInstanceID,
	})
}

// StartTransaction handles pushing START_TRANSACTION to the bound host
func (h *Handler) StartTransaction(c *gin.Context) {
	var req dto.StartTransactionRequest
	if !h.bind(c, &req) {
		return
	}
	err := h.orch.Start(c.Request.Context(), req.TransactionID, orchestrator.StartInput{
		RunnerID:   req.RunnerID,
		ClientID:   req.ClientID,
		Params:     req.Params,
		ParamsMeta: req.ParamsMeta,
	})
	if err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

// CancelTransaction handles canceling a transaction
func (h *Handler) CancelTransaction(c *gin.Context) {
	var req dto.CancelTransactionRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.orch.Cancel(c.Request.Context(), req.TransactionID, req.RequestedBy); err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	h.logger.Info("transaction canceled over internal api", zap.String("transaction", req.TransactionID))
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

// SatisfyRequirements handles an identity confirmation made on the dashboard
func (h *Handler) SatisfyRequirements(c *gin.Context) {
	var req dto.SatisfyRequirementsRequest
	if !h.bind(c, &req) {
		return
	}
	n, err := h.orch.SatisfyRequirement(c.Request.Context(), req.TransactionID, req.UserID)
	if err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SatisfyRequirementsResponse{Satisfied: n})
}

// Notify handles dispatching a stored notification to the current client
func (h *Handler) Notify(c *gin.Context) {
	var req dto.NotifyRequest
	if !h.bind(c, &req) {
		return
	}
	delivered, err := h.orch.DispatchNotification(c.Request.Context(), req.TransactionID, req.NotificationID)
	if err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NotifyResponse{Delivered: delivered})
}
