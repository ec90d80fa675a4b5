package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/utils"
)

const (
	maxReasonLen         = 255
	maxIdempotencyKeyLen = 64
)

// LedgerService awards points and answers balance and history questions.
type LedgerService struct {
	uow   *UnitOfWork
	db    *gorm.DB
	cache *utils.Cache
	log   *zap.Logger
}

// NewLedgerService creates a LedgerService. cache may be nil.
func NewLedgerService(db *gorm.DB, cache *utils.Cache, log *zap.Logger) *LedgerService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerService{uow: NewUnitOfWork(db), db: db, cache: cache, log: log}
}

// AwardInput is a request to credit a student.
type AwardInput struct {
	StudentID uint
	Points    int64
	Reason    string
	// IdempotencyKey is optional. Repeating a key returns the first result without new effects.
	IdempotencyKey string
}

// AwardResult is the outcome of Award.
type AwardResult struct {
	Transaction models.PointsTransaction `json:"transaction"`
	NewBalance  int64                    `json:"new_balance"`
	Replayed    bool                     `json:"replayed"`
}

// Award credits in.Points to a student and records a REWARD entry, atomically.
func (s *LedgerService) Award(ctx context.Context, actor Principal, in AwardInput) (*AwardResult, error) {
	const op = "award"

	if in.Points <= 0 {
		return nil, invalid(op, "points must be a positive integer")
	}
	reason := utils.CleanText(in.Reason, maxReasonLen)
	if reason == "" {
		return nil, invalid(op, "reason is required")
	}
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return nil, invalid(op, "idempotency key longer than %d characters", maxIdempotencyKeyLen)
	}

	var res *AwardResult
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		student, err := findStudent(tx, op, in.StudentID, true)
		if err != nil {
			return err
		}
		if err := authorize(op, actor, ActionAward, StudentTarget(student)); err != nil {
			return err
		}

		if in.IdempotencyKey != "" {
			prior, err := s.replay(tx, op, actor, in)
			if err != nil || prior != nil {
				res = prior
				return err
			}
		}

		entry := &models.PointsTransaction{
			StudentID: student.ID,
			ActorID:   actor.ID,
			Delta:     in.Points,
			Kind:      models.KindReward,
			Reason:    reason,
		}
		if in.IdempotencyKey != "" {
			key := in.IdempotencyKey
			entry.IdempotencyKey = &key
		}
		balance, err := postEntry(tx, op, entry)
		if err != nil {
			return err
		}
		res = &AwardResult{Transaction: *entry, NewBalance: balance}
		return nil
	})
	if err != nil {
		// a concurrent call with the same key committed first
		if in.IdempotencyKey != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.replayCommitted(ctx, op, actor, in)
		}
		return nil, err
	}

	if !res.Replayed {
		invalidateLeaderboards(ctx, s.cache)
		s.log.Info("points awarded",
			zap.Uint("student_id", in.StudentID),
			zap.Uint("actor_id", actor.ID),
			zap.Int64("delta", in.Points),
			zap.Uint("transaction_id", res.Transaction.ID),
			zap.Int64("balance", res.NewBalance),
		)
	}
	return res, nil
}

// replay returns the earlier result for actor's in.IdempotencyKey, or nil when actor has not
// used the key. Keys of other actors are never visible.
func (s *LedgerService) replay(tx *gorm.DB, op string, actor Principal, in AwardInput) (*AwardResult, error) {
	var prior models.PointsTransaction
	err := tx.Where("actor_id = ? AND idempotency_key = ?", actor.ID, in.IdempotencyKey).Take(&prior).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "look up idempotency key")
	}
	if prior.StudentID != in.StudentID || prior.Delta != in.Points || prior.Kind != models.KindReward {
		return nil, conflict(op, "idempotency key already used for a different award")
	}
	balance, err := currentBalance(tx, prior.StudentID)
	if err != nil {
		return nil, err
	}
	return &AwardResult{Transaction: prior, NewBalance: balance, Replayed: true}, nil
}

func (s *LedgerService) replayCommitted(ctx context.Context, op string, actor Principal, in AwardInput) (*AwardResult, error) {
	res, err := s.replay(s.db.WithContext(ctx), op, actor, in)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, conflict(op, "idempotency key collision, retry the call")
	}
	return res, nil
}

// postEntry is the only writer of users.points. It moves the balance by entry.Delta, refusing to
// go below zero, and appends the ledger row inside the same transaction. It returns the new balance.
func postEntry(tx *gorm.DB, op string, entry *models.PointsTransaction) (int64, error) {
	switch {
	case entry.Delta == 0:
		return 0, invalid(op, "ledger entry without a delta")
	case entry.Kind == models.KindReward && entry.Delta < 0,
		entry.Kind == models.KindPurchase && entry.Delta > 0:
		return 0, invalid(op, "%s entry with delta %d", entry.Kind, entry.Delta)
	}

	q := tx.Model(&models.User{}).Where("id = ? AND role = ?", entry.StudentID, models.RoleStudent)
	if entry.Delta < 0 {
		q = q.Where("points >= ?", -entry.Delta)
	}
	upd := q.UpdateColumns(map[string]interface{}{
		"points":     gorm.Expr("points + ?", entry.Delta),
		"updated_at": time.Now(),
	})
	if upd.Error != nil {
		return 0, storeErr(upd.Error, "update balance")
	}
	if upd.RowsAffected != 1 {
		return 0, conflict(op, "insufficient points")
	}

	if err := tx.Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, err
		}
		return 0, storeErr(err, "insert ledger entry")
	}
	return currentBalance(tx, entry.StudentID)
}

func currentBalance(tx *gorm.DB, studentID uint) (int64, error) {
	var balance int64
	if err := tx.Model(&models.User{}).Select("points").Where("id = ?", studentID).Row().Scan(&balance); err != nil {
		return 0, storeErr(err, "read balance")
	}
	return balance, nil
}

// Balance is a student's current points total.
type Balance struct {
	StudentID uint  `json:"student_id"`
	Points    int64 `json:"points"`
}

// Balance returns a student's balance. Visible to the student, their tutor and admins.
func (s *LedgerService) Balance(ctx context.Context, actor Principal, studentID uint) (*Balance, error) {
	const op = "balance"
	student, err := findStudent(s.db.WithContext(ctx), op, studentID, false)
	if err != nil {
		return nil, err
	}
	if err := authorize(op, actor, ActionViewLedger, StudentTarget(student)); err != nil {
		return nil, err
	}
	return &Balance{StudentID: student.ID, Points: student.Points}, nil
}

// HistoryFilter narrows History. Kind is optional.
type HistoryFilter struct {
	Kind models.TransactionKind
	Pagination
}

// History lists a student's ledger entries, newest first.
func (s *LedgerService) History(ctx context.Context, actor Principal, studentID uint, f HistoryFilter) ([]models.PointsTransaction, int64, error) {
	const op = "history"
	db := s.db.WithContext(ctx)

	student, err := findStudent(db, op, studentID, false)
	if err != nil {
		return nil, 0, err
	}
	if err := authorize(op, actor, ActionViewLedger, StudentTarget(student)); err != nil {
		return nil, 0, err
	}

	q := db.Model(&models.PointsTransaction{}).Where("student_id = ?", student.ID)
	switch f.Kind {
	case "":
	case models.KindReward, models.KindPurchase:
		q = q.Where("kind = ?", f.Kind)
	default:
		return nil, 0, invalid(op, "unknown transaction kind %q", f.Kind)
	}

	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storeErr(err, "count ledger entries")
	}

	page := NewPagination(f.Page, f.PageSize)
	var items []models.PointsTransaction
	if err := q.Order("created_at DESC").Order("id DESC").Offset(page.offset()).Limit(page.PageSize).Find(&items).Error; err != nil {
		return nil, 0, storeErr(err, "list ledger entries")
	}
	return items, total, nil
}

// LedgerAudit compares a balance with the sum of its ledger.
type LedgerAudit struct {
	StudentID        uint  `json:"student_id"`
	Points           int64 `json:"points"`
	LedgerSum        int64 `json:"ledger_sum"`
	TransactionCount int64 `json:"transaction_count"`
	Consistent       bool  `json:"consistent"`
}

// Audit compares one student's balance with the sum of their ledger entries. It never modifies anything.
func (s *LedgerService) Audit(ctx context.Context, actor Principal, studentID uint) (*LedgerAudit, error) {
	const op = "audit"
	var out *LedgerAudit
	err := s.uow.Do(ctx, func(tx *gorm.DB) error {
		student, err := findStudent(tx, op, studentID, false)
		if err != nil {
			return err
		}
		if err := authorize(op, actor, ActionAuditLedger, StudentTarget(student)); err != nil {
			return err
		}

		var agg struct {
			Total int64
			Count int64
		}
		if err := tx.Model(&models.PointsTransaction{}).
			Select("COALESCE(SUM(delta), 0) AS total, COUNT(*) AS count").
			Where("student_id = ?", student.ID).
			Scan(&agg).Error; err != nil {
			return storeErr(err, "sum ledger")
		}
		out = &LedgerAudit{
			StudentID:        student.ID,
			Points:           student.Points,
			LedgerSum:        agg.Total,
			TransactionCount: agg.Count,
			Consistent:       agg.Total == student.Points,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindDrift returns every student whose balance differs from the sum of their ledger.
// It is meant for scheduled monitoring and needs no principal.
func (s *LedgerService) FindDrift(ctx context.Context) ([]LedgerAudit, error) {
	var rows []struct {
		StudentID uint
		Points    int64
		LedgerSum int64
		TxCount   int64
	}
	err := s.db.WithContext(ctx).
		Table("users AS u").
		Select("u.id AS student_id, u.points AS points, COALESCE(SUM(t.delta), 0) AS ledger_sum, COUNT(t.id) AS tx_count").
		Joins("LEFT JOIN points_transactions AS t ON t.student_id = u.id").
		Where("u.role = ?", models.RoleStudent).
		Group("u.id, u.points").
		Having("u.points <> COALESCE(SUM(t.delta), 0)").
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr(err, "scan ledger drift")
	}

	out := make([]LedgerAudit, 0, len(rows))
	for _, r := range rows {
		out = append(out, LedgerAudit{
			StudentID:        r.StudentID,
			Points:           r.Points,
			LedgerSum:        r.LedgerSum,
			TransactionCount: r.TxCount,
		})
	}
	return out, nil
}
