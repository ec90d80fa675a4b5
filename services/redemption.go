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
	maxNoteLen            = 500
	maxRejectionReasonLen = 500
)

// RedemptionService runs the PENDING -> APPROVED | REJECTED workflow.
type RedemptionService struct {
	uow   *UnitOfWork
	db    *gorm.DB
	cache *utils.Cache
	log   *zap.Logger
}

// NewRedemptionService creates a RedemptionService. cache may be nil.
func NewRedemptionService(db *gorm.DB, cache *utils.Cache, log *zap.Logger) *RedemptionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedemptionService{uow: NewUnitOfWork(db), db: db, cache: cache, log: log}
}

// SubmitInput asks for one unit of a catalog item.
type SubmitInput struct {
	ItemID uint
	Note   string
}

// Submit files a PENDING request for the calling student. The price is snapshotted and
// the tutor is copied from the student. Nothing is debited until approval.
func (s *RedemptionService) Submit(ctx context.Context, actor Principal, in SubmitInput) (*models.RedemptionRequest, error) {
	const op = "submit"

	if err := authorize(op, actor, ActionSubmitRequest, Target{StudentID: actor.ID}); err != nil {
		return nil, err
	}
	if in.ItemID == 0 {
		return nil, invalid(op, "item_id is required")
	}
	note := utils.CleanText(in.Note, maxNoteLen)

	var req *models.RedemptionRequest
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		student, err := findStudent(tx, op, actor.ID, false)
		if err != nil {
			return err
		}
		if student.TutorID == nil {
			return invalid(op, "student has no assigned tutor")
		}
		item, err := findItem(tx, op, in.ItemID, false)
		if err != nil {
			return err
		}
		if !item.InStock() {
			return conflict(op, "item out of stock")
		}
		if student.Points < item.PointsRequired {
			return conflict(op, "insufficient points")
		}

		req = &models.RedemptionRequest{
			StudentID:   student.ID,
			TutorID:     *student.TutorID,
			ItemID:      item.ID,
			Status:      models.StatusPending,
			PointsSpent: item.PointsRequired,
			Note:        note,
		}
		if err := tx.Create(req).Error; err != nil {
			return storeErr(err, "create request")
		}
		req.Item = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("redemption submitted",
		zap.Uint("request_id", req.ID),
		zap.Uint("student_id", req.StudentID),
		zap.Uint("item_id", req.ItemID),
		zap.Int64("points", req.PointsSpent),
	)
	return req, nil
}

// ApproveResult is the outcome of Approve.
type ApproveResult struct {
	Request     models.RedemptionRequest `json:"request"`
	Transaction models.PointsTransaction `json:"transaction"`
	NewBalance  int64                    `json:"new_balance"`
}

// Approve settles a PENDING request: one unit of stock is taken, the snapshotted price is
// debited with a PURCHASE entry and the request becomes APPROVED. Either all of it happens
// or none of it does.
func (s *RedemptionService) Approve(ctx context.Context, actor Principal, requestID uint) (*ApproveResult, error) {
	const op = "approve"

	var out *ApproveResult
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		// lock order: request, item, student
		req, err := findRequest(tx, op, requestID, true)
		if err != nil {
			return err
		}
		if err := authorize(op, actor, ActionApproveRequest, RequestTarget(req)); err != nil {
			return err
		}
		if !req.IsPending() {
			return invalidState(op, "request is %s", req.Status)
		}

		item, err := findItem(tx, op, req.ItemID, true)
		if err != nil {
			return err
		}
		student, err := findStudent(tx, op, req.StudentID, true)
		if err != nil {
			return err
		}
		if !item.InStock() {
			return conflict(op, "item out of stock")
		}
		if student.Points < req.PointsSpent {
			return conflict(op, "insufficient points")
		}

		now := time.Now()
		stock := tx.Model(&models.CatalogItem{}).
			Where("id = ? AND available_quantity > 0", item.ID).
			UpdateColumns(map[string]interface{}{
				"available_quantity": gorm.Expr("available_quantity - 1"),
				"updated_at":         now,
			})
		if stock.Error != nil {
			return storeErr(stock.Error, "take stock")
		}
		if stock.RowsAffected != 1 {
			return conflict(op, "item out of stock")
		}

		entry := &models.PointsTransaction{
			StudentID:           student.ID,
			ActorID:             actor.ID,
			Delta:               -req.PointsSpent,
			Kind:                models.KindPurchase,
			Reason:              "purchase of " + item.Name,
			RedemptionRequestID: &req.ID,
		}
		balance, err := postEntry(tx, op, entry)
		if err != nil {
			return err
		}

		processedBy := actor.ID
		state := tx.Model(&models.RedemptionRequest{}).
			Where("id = ? AND status = ?", req.ID, models.StatusPending).
			UpdateColumns(map[string]interface{}{
				"status":       models.StatusApproved,
				"processed_by": processedBy,
				"processed_at": now,
				"updated_at":   now,
			})
		if state.Error != nil {
			return storeErr(state.Error, "mark request approved")
		}
		if state.RowsAffected != 1 {
			return invalidState(op, "request already processed")
		}

		req.Status = models.StatusApproved
		req.ProcessedBy = &processedBy
		req.ProcessedAt = &now
		req.UpdatedAt = now
		item.AvailableQuantity--
		req.Item = item
		out = &ApproveResult{Request: *req, Transaction: *entry, NewBalance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateLeaderboards(ctx, s.cache)
	s.log.Info("redemption approved",
		zap.Uint("request_id", out.Request.ID),
		zap.Uint("student_id", out.Request.StudentID),
		zap.Uint("actor_id", actor.ID),
		zap.Int64("delta", out.Transaction.Delta),
		zap.Int64("balance", out.NewBalance),
	)
	return out, nil
}

// Reject closes a PENDING request without touching balance or stock. reason is required.
func (s *RedemptionService) Reject(ctx context.Context, actor Principal, requestID uint, reason string) (*models.RedemptionRequest, error) {
	const op = "reject"

	reason = utils.CleanText(reason, maxRejectionReasonLen)
	if reason == "" {
		return nil, invalid(op, "rejection reason is required")
	}

	var out *models.RedemptionRequest
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		req, err := findRequest(tx, op, requestID, true)
		if err != nil {
			return err
		}
		if err := authorize(op, actor, ActionRejectRequest, RequestTarget(req)); err != nil {
			return err
		}
		if !req.IsPending() {
			return invalidState(op, "request is %s", req.Status)
		}

		now := time.Now()
		processedBy := actor.ID
		res := tx.Model(&models.RedemptionRequest{}).
			Where("id = ? AND status = ?", req.ID, models.StatusPending).
			UpdateColumns(map[string]interface{}{
				"status":           models.StatusRejected,
				"rejection_reason": reason,
				"processed_by":     processedBy,
				"processed_at":     now,
				"updated_at":       now,
			})
		if res.Error != nil {
			return storeErr(res.Error, "mark request rejected")
		}
		if res.RowsAffected != 1 {
			return invalidState(op, "request already processed")
		}

		req.Status = models.StatusRejected
		req.RejectionReason = reason
		req.ProcessedBy = &processedBy
		req.ProcessedAt = &now
		req.UpdatedAt = now
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("redemption rejected",
		zap.Uint("request_id", out.ID),
		zap.Uint("student_id", out.StudentID),
		zap.Uint("actor_id", actor.ID),
	)
	return out, nil
}

// Cancel deletes the caller's own PENDING request.
func (s *RedemptionService) Cancel(ctx context.Context, actor Principal, requestID uint) error {
	const op = "cancel"

	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		req, err := findRequest(tx, op, requestID, true)
		if err != nil {
			return err
		}
		if err := authorize(op, actor, ActionCancelRequest, RequestTarget(req)); err != nil {
			return err
		}
		if !req.IsPending() {
			return invalidState(op, "request is %s", req.Status)
		}
		res := tx.Where("id = ? AND status = ?", req.ID, models.StatusPending).Delete(&models.RedemptionRequest{})
		if res.Error != nil {
			return storeErr(res.Error, "delete request")
		}
		if res.RowsAffected != 1 {
			return invalidState(op, "request already processed")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("redemption cancelled", zap.Uint("request_id", requestID), zap.Uint("student_id", actor.ID))
	return nil
}

// Get returns one request with its item.
func (s *RedemptionService) Get(ctx context.Context, actor Principal, requestID uint) (*models.RedemptionRequest, error) {
	const op = "get request"
	db := s.db.WithContext(ctx)

	req, err := findRequest(db, op, requestID, false)
	if err != nil {
		return nil, err
	}
	if err := authorize(op, actor, ActionViewRequest, RequestTarget(req)); err != nil {
		return nil, err
	}
	if item, err := findItem(db, op, req.ItemID, false); err == nil {
		req.Item = item
	}
	return req, nil
}

// RequestFilter narrows List. Zero values mean no filter.
type RequestFilter struct {
	Status    models.RequestStatus
	StudentID uint
	Pagination
}

// List returns requests visible to actor, newest first. Students see their own,
// tutors see their students' and admins see everything.
func (s *RedemptionService) List(ctx context.Context, actor Principal, f RequestFilter) ([]models.RedemptionRequest, int64, error) {
	const op = "list requests"

	q := s.db.WithContext(ctx).Model(&models.RedemptionRequest{})
	switch {
	case actor.is(models.RoleAdmin):
	case actor.is(models.RoleTutor):
		q = q.Where("tutor_id = ?", actor.ID)
	case actor.is(models.RoleStudent):
		if f.StudentID != 0 && f.StudentID != actor.ID {
			return nil, 0, unauthorized(op)
		}
		q = q.Where("student_id = ?", actor.ID)
	default:
		return nil, 0, unauthorized(op)
	}

	if f.StudentID != 0 {
		q = q.Where("student_id = ?", f.StudentID)
	}
	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, 0, invalid(op, "unknown status %q", f.Status)
		}
		q = q.Where("status = ?", f.Status)
	}

	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storeErr(err, "count requests")
	}

	page := NewPagination(f.Page, f.PageSize)
	var items []models.RedemptionRequest
	if err := q.Preload("Item").
		Order("created_at DESC").Order("id DESC").
		Offset(page.offset()).Limit(page.PageSize).
		Find(&items).Error; err != nil {
		return nil, 0, storeErr(err, "list requests")
	}
	return items, total, nil
}
