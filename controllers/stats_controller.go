package controllers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/utils"
)

// StatsController provides economy-wide aggregates for admins.
type StatsController struct {
	db *gorm.DB
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB) *StatsController {
	return &StatsController{db: db}
}

// GetStats returns point supply, spend and workflow backlog. Individual aggregates that fail
// read as 0 instead of failing the whole endpoint.
func (s *StatsController) GetStats(ctx *gin.Context) {
	db := s.db.WithContext(ctx.Request.Context())

	var (
		students       int64
		outstanding    int64
		awarded        int64
		spent          int64
		pending        int64
		itemsInStock   int64
		unitsAvailable int64
	)

	if err := db.Model(&models.User{}).Where("role = ?", models.RoleStudent).Count(&students).Error; err != nil {
		students = 0
	}
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleStudent).
		Select("COALESCE(SUM(points),0)").Scan(&outstanding).Error; err != nil {
		outstanding = 0
	}
	if err := db.Model(&models.PointsTransaction{}).Where("kind = ?", models.KindReward).
		Select("COALESCE(SUM(delta),0)").Scan(&awarded).Error; err != nil {
		awarded = 0
	}
	if err := db.Model(&models.PointsTransaction{}).Where("kind = ?", models.KindPurchase).
		Select("COALESCE(-SUM(delta),0)").Scan(&spent).Error; err != nil {
		spent = 0
	}
	if err := db.Model(&models.RedemptionRequest{}).Where("status = ?", models.StatusPending).Count(&pending).Error; err != nil {
		pending = 0
	}
	if err := db.Model(&models.CatalogItem{}).Where("available_quantity > 0").Count(&itemsInStock).Error; err != nil {
		itemsInStock = 0
	}
	if err := db.Model(&models.CatalogItem{}).Select("COALESCE(SUM(available_quantity),0)").Scan(&unitsAvailable).Error; err != nil {
		unitsAvailable = 0
	}

	utils.Success(ctx, gin.H{
		"student_count":      students,
		"points_outstanding": outstanding,
		"points_awarded":     awarded,
		"points_spent":       spent,
		"pending_requests":   pending,
		"items_in_stock":     itemsInStock,
		"units_available":    unitsAvailable,
	})
}
