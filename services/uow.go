package services

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/meritboard/models"
)

// UnitOfWork runs a function inside one database transaction. Any error returned by
// the function rolls back every write made through tx.
type UnitOfWork struct {
	db *gorm.DB
}

// NewUnitOfWork wraps db.
func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Do begins a transaction, calls fn and commits when fn returns nil.
func (u *UnitOfWork) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return u.db.WithContext(ctx).Transaction(fn)
}

// forUpdate adds SELECT ... FOR UPDATE. Dialects without row locks ignore the clause.
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func storeErr(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// findStudent loads a student row, optionally locking it. Non-student users are reported as missing.
func findStudent(tx *gorm.DB, op string, id uint, lock bool) (*models.User, error) {
	q := tx
	if lock {
		q = forUpdate(tx)
	}
	var u models.User
	if err := q.Take(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(op, "student")
		}
		return nil, storeErr(err, "load student")
	}
	if !u.IsStudent() {
		return nil, notFound(op, "student")
	}
	return &u, nil
}

func findItem(tx *gorm.DB, op string, id uint, lock bool) (*models.CatalogItem, error) {
	q := tx
	if lock {
		q = forUpdate(tx)
	}
	var item models.CatalogItem
	if err := q.Take(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(op, "item")
		}
		return nil, storeErr(err, "load item")
	}
	return &item, nil
}

func findRequest(tx *gorm.DB, op string, id uint, lock bool) (*models.RedemptionRequest, error) {
	q := tx
	if lock {
		q = forUpdate(tx)
	}
	var req models.RedemptionRequest
	if err := q.Take(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(op, "request")
		}
		return nil, storeErr(err, "load request")
	}
	return &req, nil
}

// Pagination is a normalised page window.
type Pagination struct {
	Page     int
	PageSize int
}

// NewPagination clamps page to >= 1 and pageSize to 1..100, defaulting to 20.
func NewPagination(page, pageSize int) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return Pagination{Page: page, PageSize: pageSize}
}

func (p Pagination) offset() int { return (p.Page - 1) * p.PageSize }
