package services

import "github.com/cppla/meritboard/models"

// Principal is the authenticated caller, as handed over by the authentication layer.
type Principal struct {
	ID      uint
	Role    models.Role
	TutorID *uint
}

func (p Principal) is(role models.Role) bool { return p.ID != 0 && p.Role == role }

// Action names an operation guarded by Allowed.
type Action string

const (
	ActionAward          Action = "points.award"
	ActionViewLedger     Action = "points.view"
	ActionAuditLedger    Action = "points.audit"
	ActionSubmitRequest  Action = "request.submit"
	ActionApproveRequest Action = "request.approve"
	ActionRejectRequest  Action = "request.reject"
	ActionCancelRequest  Action = "request.cancel"
	ActionViewRequest    Action = "request.view"
	ActionManageCatalog  Action = "catalog.manage"
	ActionViewCatalog    Action = "catalog.view"
	ActionViewRanking    Action = "ranking.view"
)

// Target describes the resource an action touches. StudentID is the student the
// resource belongs to; TutorID is that student's owning tutor (for requests, the
// tutor recorded on the request).
type Target struct {
	StudentID uint
	TutorID   uint
}

// StudentTarget builds the target for a student row.
func StudentTarget(u *models.User) Target {
	t := Target{StudentID: u.ID}
	if u.TutorID != nil {
		t.TutorID = *u.TutorID
	}
	return t
}

// RequestTarget builds the target for a redemption request.
func RequestTarget(r *models.RedemptionRequest) Target {
	return Target{StudentID: r.StudentID, TutorID: r.TutorID}
}

// Allowed is the single capability predicate of the points economy.
func Allowed(p Principal, a Action, t Target) bool {
	if p.ID == 0 || !p.Role.Valid() {
		return false
	}

	switch a {
	case ActionAward:
		return p.is(models.RoleAdmin) || p.ownsAsTutor(t)
	case ActionViewLedger, ActionViewRequest:
		return p.is(models.RoleAdmin) || p.ownsAsTutor(t) || p.isSelf(t)
	case ActionAuditLedger, ActionManageCatalog:
		return p.is(models.RoleAdmin)
	case ActionSubmitRequest, ActionCancelRequest:
		return p.isSelf(t)
	case ActionApproveRequest, ActionRejectRequest:
		return p.ownsAsTutor(t)
	case ActionViewCatalog, ActionViewRanking:
		return true
	}
	return false
}

func (p Principal) ownsAsTutor(t Target) bool {
	return p.is(models.RoleTutor) && t.TutorID != 0 && t.TutorID == p.ID
}

func (p Principal) isSelf(t Target) bool {
	return p.is(models.RoleStudent) && t.StudentID != 0 && t.StudentID == p.ID
}

func authorize(op string, p Principal, a Action, t Target) error {
	if !Allowed(p, a, t) {
		return unauthorized(op)
	}
	return nil
}
