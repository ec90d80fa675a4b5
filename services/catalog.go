package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/utils"
)

const (
	maxItemNameLen        = 128
	maxItemDescriptionLen = 2000
)

// CatalogService manages the reward catalog. Reads are open to every principal,
// writes are admin only.
type CatalogService struct {
	uow *UnitOfWork
	db  *gorm.DB
	log *zap.Logger
}

// NewCatalogService creates a CatalogService.
func NewCatalogService(db *gorm.DB, log *zap.Logger) *CatalogService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogService{uow: NewUnitOfWork(db), db: db, log: log}
}

// CatalogFilter narrows List.
type CatalogFilter struct {
	InStockOnly bool
	Pagination
}

// List returns catalog items ordered by ID.
func (s *CatalogService) List(ctx context.Context, actor Principal, f CatalogFilter) ([]models.CatalogItem, int64, error) {
	const op = "list items"
	if err := authorize(op, actor, ActionViewCatalog, Target{}); err != nil {
		return nil, 0, err
	}

	q := s.db.WithContext(ctx).Model(&models.CatalogItem{})
	if f.InStockOnly {
		q = q.Where("available_quantity > 0")
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storeErr(err, "count items")
	}
	page := NewPagination(f.Page, f.PageSize)
	var items []models.CatalogItem
	if err := q.Order("id ASC").Offset(page.offset()).Limit(page.PageSize).Find(&items).Error; err != nil {
		return nil, 0, storeErr(err, "list items")
	}
	return items, total, nil
}

// Get returns one item.
func (s *CatalogService) Get(ctx context.Context, actor Principal, id uint) (*models.CatalogItem, error) {
	const op = "get item"
	if err := authorize(op, actor, ActionViewCatalog, Target{}); err != nil {
		return nil, err
	}
	return findItem(s.db.WithContext(ctx), op, id, false)
}

// NewItem describes an item to add.
type NewItem struct {
	Name              string
	Description       string
	PointsRequired    int64
	AvailableQuantity int64
}

// Create adds an item to the catalog.
func (s *CatalogService) Create(ctx context.Context, actor Principal, in NewItem) (*models.CatalogItem, error) {
	const op = "create item"
	if err := authorize(op, actor, ActionManageCatalog, Target{}); err != nil {
		return nil, err
	}

	item := &models.CatalogItem{
		Name:              utils.CleanText(in.Name, maxItemNameLen),
		Description:       utils.CleanText(in.Description, maxItemDescriptionLen),
		PointsRequired:    in.PointsRequired,
		AvailableQuantity: in.AvailableQuantity,
	}
	switch {
	case item.Name == "":
		return nil, invalid(op, "name is required")
	case item.PointsRequired <= 0:
		return nil, invalid(op, "points_required must be a positive integer")
	case item.AvailableQuantity < 0:
		return nil, invalid(op, "available_quantity must not be negative")
	}

	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, storeErr(err, "create item")
	}
	s.log.Info("catalog item created", zap.Uint("item_id", item.ID), zap.Uint("actor_id", actor.ID))
	return item, nil
}

// ItemPatch changes some fields of an item. Nil fields are left alone. A new price
// applies to requests submitted afterwards; PENDING requests keep their snapshot.
type ItemPatch struct {
	Name           *string
	Description    *string
	PointsRequired *int64
}

// Update applies patch to an item.
func (s *CatalogService) Update(ctx context.Context, actor Principal, id uint, patch ItemPatch) (*models.CatalogItem, error) {
	const op = "update item"
	if err := authorize(op, actor, ActionManageCatalog, Target{}); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if patch.Name != nil {
		name := utils.CleanText(*patch.Name, maxItemNameLen)
		if name == "" {
			return nil, invalid(op, "name must not be blank")
		}
		updates["name"] = name
	}
	if patch.Description != nil {
		updates["description"] = utils.CleanText(*patch.Description, maxItemDescriptionLen)
	}
	if patch.PointsRequired != nil {
		if *patch.PointsRequired <= 0 {
			return nil, invalid(op, "points_required must be a positive integer")
		}
		updates["points_required"] = *patch.PointsRequired
	}

	var out *models.CatalogItem
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		item, err := findItem(tx, op, id, true)
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			updates["updated_at"] = time.Now()
			if err := tx.Model(item).UpdateColumns(updates).Error; err != nil {
				return storeErr(err, "update item")
			}
		}
		out, err = findItem(tx, op, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("catalog item updated", zap.Uint("item_id", id), zap.Uint("actor_id", actor.ID))
	return out, nil
}

// Restock adds quantity units to an item's stock.
func (s *CatalogService) Restock(ctx context.Context, actor Principal, id uint, quantity int64) (*models.CatalogItem, error) {
	const op = "restock item"
	if err := authorize(op, actor, ActionManageCatalog, Target{}); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, invalid(op, "quantity must be a positive integer")
	}

	var out *models.CatalogItem
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		if _, err := findItem(tx, op, id, true); err != nil {
			return err
		}
		res := tx.Model(&models.CatalogItem{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
			"available_quantity": gorm.Expr("available_quantity + ?", quantity),
			"updated_at":         time.Now(),
		})
		if res.Error != nil {
			return storeErr(res.Error, "restock item")
		}
		var err error
		out, err = findItem(tx, op, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("catalog item restocked",
		zap.Uint("item_id", id),
		zap.Uint("actor_id", actor.ID),
		zap.Int64("quantity", quantity),
		zap.Int64("available", out.AvailableQuantity),
	)
	return out, nil
}
