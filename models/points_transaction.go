package models

import "time"

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	KindReward   TransactionKind = "REWARD"
	KindPurchase TransactionKind = "PURCHASE"
)

// PointsTransaction is an immutable ledger row. For every student the sum of
// Delta over all rows equals users.points. Idempotency keys are unique per actor.
type PointsTransaction struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	StudentID           uint            `gorm:"index;not null" json:"student_id"`
	ActorID             uint            `gorm:"not null;uniqueIndex:idx_ledger_actor_key,priority:1" json:"actor_id"`
	Delta               int64           `gorm:"not null" json:"delta"`
	Kind                TransactionKind `gorm:"size:16;not null;index" json:"kind"`
	Reason              string          `gorm:"size:255" json:"reason"`
	RedemptionRequestID *uint           `gorm:"index" json:"redemption_request_id,omitempty"`
	IdempotencyKey      *string         `gorm:"size:64;uniqueIndex:idx_ledger_actor_key,priority:2" json:"-"`
	CreatedAt           time.Time       `gorm:"index" json:"created_at"`
}
