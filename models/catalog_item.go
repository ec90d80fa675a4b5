package models

import "time"

// CatalogItem is a reward that students can redeem points for.
type CatalogItem struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"size:128;not null" json:"name"`
	Description       string    `gorm:"type:text" json:"description"`
	PointsRequired    int64     `gorm:"not null;check:points_required > 0" json:"points_required"`
	AvailableQuantity int64     `gorm:"not null;default:0;check:available_quantity >= 0" json:"available_quantity"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// InStock reports whether at least one unit can still be handed out.
func (i *CatalogItem) InStock() bool {
	return i.AvailableQuantity > 0
}
