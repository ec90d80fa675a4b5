package models

import "time"

// RequestStatus is the state of a redemption request. APPROVED and REJECTED are terminal.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
)

// Valid reports whether s is one of the known statuses.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// RedemptionRequest binds a student, an item and the item price at submission time.
// TutorID is copied from the student when the request is created and decides who may act on it.
type RedemptionRequest struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	StudentID       uint          `gorm:"index;not null" json:"student_id"`
	TutorID         uint          `gorm:"index;not null" json:"tutor_id"`
	ItemID          uint          `gorm:"index;not null" json:"item_id"`
	Status          RequestStatus `gorm:"size:16;not null;index" json:"status"`
	PointsSpent     int64         `gorm:"not null;check:points_spent > 0" json:"points_spent"`
	Note            string        `gorm:"size:500" json:"note,omitempty"`
	RejectionReason string        `gorm:"size:500" json:"rejection_reason,omitempty"`
	ProcessedBy     *uint         `json:"processed_by,omitempty"`
	ProcessedAt     *time.Time    `json:"processed_at,omitempty"`
	CreatedAt       time.Time     `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Student         *User         `gorm:"foreignKey:StudentID" json:"student,omitempty"`
	Item            *CatalogItem  `gorm:"foreignKey:ItemID" json:"item,omitempty"`
}

// IsPending reports whether the request can still transition.
func (r *RedemptionRequest) IsPending() bool {
	return r.Status == StatusPending
}
