package models

// All returns every model managed by the points economy, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&CatalogItem{},
		&RedemptionRequest{},
		&PointsTransaction{},
	}
}
