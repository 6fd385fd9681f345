package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrApprovalNotFound     = errors.New("approval request not found")
	ErrSameApprover         = errors.New("second approver must differ from the first")
	ErrInvalidApprovalState = errors.New("approval request not in an actionable state")
	ErrStaleApprovalState   = errors.New("approval request changed concurrently, re-read and retry")
)

// RuleType names a governed sensitive action.
type RuleType string

const (
	RuleOverrideDecision      RuleType = "override_decision"
	RuleBankAccountChange     RuleType = "bank_account_change"
	RuleManualRelease         RuleType = "manual_release"
	RuleRenegotiation         RuleType = "renegotiation"
	RuleReclassification      RuleType = "reclassification"
	RuleRefinApproval         RuleType = "refin_approval"
	RuleHighValueDisbursement RuleType = "high_value_disbursement"
)

// ValidRuleType reports whether s names a known rule.
func ValidRuleType(s string) bool {
	switch RuleType(s) {
	case RuleOverrideDecision, RuleBankAccountChange, RuleManualRelease,
		RuleRenegotiation, RuleReclassification, RuleRefinApproval,
		RuleHighValueDisbursement:
		return true
	}
	return false
}

// Status of an approval request. It only advances forward or terminates.
type Status string

const (
	StatusPendingFirst  Status = "pending_first"
	StatusPendingSecond Status = "pending_second"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusExpired       Status = "expired"
)

// IsTerminal reports whether no further submission is accepted.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Action is a single approval submission verb.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ApprovalRequest governs one sensitive action behind two sequential, distinct
// human approvals. Fields are append-only once written; only Status and the
// approver slots advance.
type ApprovalRequest struct {
	ID            string     `json:"id"`
	RuleType      RuleType   `json:"rule_type"`
	EntityType    string     `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	Status        Status     `json:"status"`
	RequestedBy   string     `json:"requested_by"`
	RequestedAt   time.Time  `json:"requested_at"`
	Justification string     `json:"justification"`
	FirstApprover string     `json:"first_approver,omitempty"`
	FirstAt       *time.Time `json:"first_at,omitempty"`
	FirstNotes    string     `json:"first_notes,omitempty"`
	SecondApprover string    `json:"second_approver,omitempty"`
	SecondAt      *time.Time `json:"second_at,omitempty"`
	SecondNotes   string     `json:"second_notes,omitempty"`
	Version       uint64     `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewApprovalRequest opens the workflow for one gated action.
func NewApprovalRequest(id string, rule RuleType, entityType, entityID, requestedBy, justification string) *ApprovalRequest {
	now := time.Now()
	return &ApprovalRequest{
		ID:            id,
		RuleType:      rule,
		EntityType:    entityType,
		EntityID:      entityID,
		Status:        StatusPendingFirst,
		RequestedBy:   requestedBy,
		RequestedAt:   now,
		Justification: justification,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Submit applies one approval or rejection. A reject from either pending
// state is immediately terminal. The identity that took the first slot is
// barred from the second; the bar is enforced here, not in any UI.
func (a *ApprovalRequest) Submit(approverID string, action Action, notes string) error {
	if a.Status.IsTerminal() {
		return fmt.Errorf("%w: status %s", ErrInvalidApprovalState, a.Status)
	}
	now := time.Now()

	switch a.Status {
	case StatusPendingFirst:
		if action == ActionReject {
			a.Status = StatusRejected
			a.FirstApprover = approverID
			a.FirstAt = &now
			a.FirstNotes = notes
		} else {
			a.Status = StatusPendingSecond
			a.FirstApprover = approverID
			a.FirstAt = &now
			a.FirstNotes = notes
		}
	case StatusPendingSecond:
		if approverID == a.FirstApprover {
			return ErrSameApprover
		}
		a.SecondApprover = approverID
		a.SecondAt = &now
		a.SecondNotes = notes
		if action == ActionReject {
			a.Status = StatusRejected
		} else {
			a.Status = StatusApproved
		}
	default:
		return fmt.Errorf("%w: status %s", ErrInvalidApprovalState, a.Status)
	}

	a.UpdatedAt = now
	return nil
}

// Expire terminates a pending request on the external time-based trigger.
func (a *ApprovalRequest) Expire() error {
	if a.Status.IsTerminal() {
		return fmt.Errorf("%w: status %s", ErrInvalidApprovalState, a.Status)
	}
	a.Status = StatusExpired
	a.UpdatedAt = time.Now()
	return nil
}

// Approved reports whether the gated action may proceed. The workflow signals
// its caller; it never performs the gated action itself.
func (a *ApprovalRequest) Approved() bool {
	return a.Status == StatusApproved
}
