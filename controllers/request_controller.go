package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/meritboard/middleware"
	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/services"
	"github.com/cppla/meritboard/utils"
)

// RequestController exposes the redemption workflow.
type RequestController struct {
	redemptions *services.RedemptionService
}

// NewRequestController creates a RequestController.
func NewRequestController(redemptions *services.RedemptionService) *RequestController {
	return &RequestController{redemptions: redemptions}
}

// Submit files a redemption request for the calling student.
func (r *RequestController) Submit(ctx *gin.Context) {
	var req struct {
		ItemID uint   `json:"item_id" binding:"required,gt=0"`
		Note   string `json:"note" binding:"max=500"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}
	out, err := r.redemptions.Submit(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), services.SubmitInput{
		ItemID: req.ItemID,
		Note:   req.Note,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Created(ctx, out)
}

// List returns the requests visible to the caller.
func (r *RequestController) List(ctx *gin.Context) {
	studentID, ok := queryID(ctx, "student_id")
	if !ok {
		return
	}
	page := pagination(ctx)
	items, total, err := r.redemptions.List(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), services.RequestFilter{
		Status:     models.RequestStatus(strings.ToUpper(strings.TrimSpace(ctx.Query("status")))),
		StudentID:  studentID,
		Pagination: page,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Page(ctx, items, total, page.Page, page.PageSize)
}

// Get returns one request.
func (r *RequestController) Get(ctx *gin.Context) {
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	out, err := r.redemptions.Get(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, out)
}

// Approve settles a pending request.
func (r *RequestController) Approve(ctx *gin.Context) {
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	out, err := r.redemptions.Approve(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, out)
}

// Reject closes a pending request with a reason.
func (r *RequestController) Reject(ctx *gin.Context) {
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	// an empty reason is rejected by the service so the error kind stays consistent
	var req struct {
		Reason string `json:"reason" binding:"max=500"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}
	out, err := r.redemptions.Reject(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), id, req.Reason)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, out)
}

// Cancel deletes the caller's own pending request.
func (r *RequestController) Cancel(ctx *gin.Context) {
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	if err := r.redemptions.Cancel(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), id); err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"id": id, "deleted": true})
}
