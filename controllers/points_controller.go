package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/meritboard/middleware"
	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/services"
	"github.com/cppla/meritboard/utils"
)

// IdempotencyKeyHeader lets clients make award retries safe.
const IdempotencyKeyHeader = "Idempotency-Key"

// PointsController exposes the ledger.
type PointsController struct {
	ledger *services.LedgerService
}

// NewPointsController creates a PointsController.
func NewPointsController(ledger *services.LedgerService) *PointsController {
	return &PointsController{ledger: ledger}
}

// Award credits points to a student.
func (p *PointsController) Award(ctx *gin.Context) {
	studentID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		Points         int64  `json:"points" binding:"required,gt=0"`
		Reason         string `json:"reason" binding:"required,notblank,max=255"`
		IdempotencyKey string `json:"idempotency_key" binding:"max=64"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}
	key := strings.TrimSpace(ctx.GetHeader(IdempotencyKeyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	res, err := p.ledger.Award(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), services.AwardInput{
		StudentID:      studentID,
		Points:         req.Points,
		Reason:         req.Reason,
		IdempotencyKey: key,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	if res.Replayed {
		utils.Success(ctx, res)
		return
	}
	utils.Created(ctx, res)
}

// Balance returns a student's current points.
func (p *PointsController) Balance(ctx *gin.Context) {
	studentID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	res, err := p.ledger.Balance(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), studentID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

// History lists a student's ledger entries.
func (p *PointsController) History(ctx *gin.Context) {
	studentID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	page := pagination(ctx)
	items, total, err := p.ledger.History(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), studentID, services.HistoryFilter{
		Kind:       models.TransactionKind(strings.ToUpper(strings.TrimSpace(ctx.Query("kind")))),
		Pagination: page,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Page(ctx, items, total, page.Page, page.PageSize)
}

// Audit compares a student's balance with their ledger.
func (p *PointsController) Audit(ctx *gin.Context) {
	studentID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	res, err := p.ledger.Audit(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), studentID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}
