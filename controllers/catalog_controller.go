package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/meritboard/middleware"
	"github.com/cppla/meritboard/services"
	"github.com/cppla/meritboard/utils"
)

// CatalogController exposes the reward catalog.
type CatalogController struct {
	catalog *services.CatalogService
}

// NewCatalogController creates a CatalogController.
func NewCatalogController(catalog *services.CatalogService) *CatalogController {
	return &CatalogController{catalog: catalog}
}

// List returns catalog items. in_stock=1 hides sold out items.
func (c *CatalogController) List(ctx *gin.Context) {
	page := pagination(ctx)
	inStock := ctx.Query("in_stock")
	items, total, err := c.catalog.List(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), services.CatalogFilter{
		InStockOnly: inStock == "1" || inStock == "true",
		Pagination:  page,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Page(ctx, items, total, page.Page, page.PageSize)
}

// Get returns one item.
func (c *CatalogController) Get(ctx *gin.Context) {
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	item, err := c.catalog.Get(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, item)
}

// Create adds an item.
func (c *CatalogController) Create(ctx *gin.Context) {
	var req struct {
		Name              string `json:"name" binding:"required,notblank,max=128"`
		Description       string `json:"description" binding:"max=2000"`
		PointsRequired    int64  `json:"points_required" binding:"required,gt=0"`
		AvailableQuantity int64  `json:"available_quantity" binding:"gte=0"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}
	item, err := c.catalog.Create(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), services.NewItem{
		Name:              req.Name,
		Description:       req.Description,
		PointsRequired:    req.PointsRequired,
		AvailableQuantity: req.AvailableQuantity,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Created(ctx, item)
}

// Update patches an item's name, description or price.
func (c *CatalogController) Update(ctx *gin.Context) {
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		Name           *string `json:"name" binding:"omitempty,notblank,max=128"`
		Description    *string `json:"description" binding:"omitempty,max=2000"`
		PointsRequired *int64  `json:"points_required" binding:"omitempty,gt=0"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}
	item, err := c.catalog.Update(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), id, services.ItemPatch{
		Name:           req.Name,
		Description:    req.Description,
		PointsRequired: req.PointsRequired,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, item)
}

// Restock adds units to an item.
func (c *CatalogController) Restock(ctx *gin.Context) {
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		Quantity int64 `json:"quantity" binding:"required,gt=0"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}
	item, err := c.catalog.Restock(ctx.Request.Context(), middleware.CurrentPrincipal(ctx), id, req.Quantity)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, item)
}
