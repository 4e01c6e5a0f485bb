// internal/domain/workflow/workflow.go

// Package workflow owns the convention signature state machine: the status
// enum, the role set, and the single transition table every call site
// consults. Nothing here touches the network or the database; callers pass
// in the fields the decision depends on and get back the next status or a
// typed refusal.
package workflow

import (
	"errors"

	"github.com/parcoursign/parcoursign/internal/domain/models"
)

// Status is a convention workflow state.
type Status string

const (
	StatusSubmitted        Status = "SUBMITTED"
	StatusSignedParent     Status = "SIGNED_PARENT"
	StatusValidatedTeacher Status = "VALIDATED_TEACHER"
	StatusSignedCompany    Status = "SIGNED_COMPANY"
	StatusSignedTutor      Status = "SIGNED_TUTOR"
	StatusValidatedHead    Status = "VALIDATED_HEAD"
	StatusRejected         Status = "REJECTED"
)

// Role identifies one signing party.
type Role string

const (
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
	RoleTeacher Role = "teacher"
	RoleCompany Role = "company"
	RoleTutor   Role = "tutor"
	RoleHead    Role = "head"
)

var (
	// ErrUnknownRole is returned for a role outside the defined set.
	ErrUnknownRole = errors.New("unknown signing role")
	// ErrAlreadySigned is returned when the role's signature key is already
	// populated; the second attempt must be a no-op.
	ErrAlreadySigned = errors.New("role has already signed")
	// ErrNotActionable is returned when the role may not act in the
	// document's current state.
	ErrNotActionable = errors.New("role cannot act in current status")
)

// Roles lists all signing roles in workflow order.
func Roles() []Role {
	return []Role{RoleStudent, RoleParent, RoleTeacher, RoleCompany, RoleTutor, RoleHead}
}

// ParseRole validates a wire-format role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStudent, RoleParent, RoleTeacher, RoleCompany, RoleTutor, RoleHead:
		return Role(s), nil
	}
	return "", ErrUnknownRole
}

// SignatureKey returns the key under which this role's signature is stored
// in the convention's signature map.
func (r Role) SignatureKey() string {
	return string(r) + "At"
}

// Terminal reports whether no further signature may be written.
func (s Status) Terminal() bool {
	return s == StatusValidatedHead
}

// Rejectable reports whether the teacher may reject from this status.
// Every non-terminal workflow state except REJECTED itself qualifies.
func (s Status) Rejectable() bool {
	switch s {
	case StatusSubmitted, StatusSignedParent, StatusValidatedTeacher,
		StatusSignedCompany, StatusSignedTutor:
		return true
	}
	return false
}

// State is the snapshot of a convention the transition table consults.
type State struct {
	Status Status
	Minor  bool // est_mineur, fixed at submission
	Signed map[string]bool
}

// StateOf derives a State from a convention document.
func StateOf(c *models.Convention) State {
	signed := make(map[string]bool, len(c.Signatures))
	for k := range c.Signatures {
		signed[k] = true
	}
	return State{
		Status: Status(c.Status),
		Minor:  c.EstMineur,
		Signed: signed,
	}
}

func (st State) has(r Role) bool {
	return st.Signed[r.SignatureKey()]
}

// Next returns the status the document moves to when role signs in the
// given state. It is the single transition table; IsActionable and the
// pending-signer computation derive from it.
//
// The company/tutor pair is commutative: whichever signs first moves the
// document into the partially-signed bucket, and head eligibility requires
// both keys present rather than a particular order.
func Next(role Role, st State) (Status, error) {
	if st.Status.Terminal() || st.Status == StatusRejected {
		return "", ErrNotActionable
	}
	if st.has(role) {
		return "", ErrAlreadySigned
	}

	switch role {
	case RoleStudent:
		// The student's signature is recorded on the document but does not
		// advance the workflow; any pre-terminal, non-rejected state accepts it.
		return st.Status, nil

	case RoleParent:
		if !st.Minor {
			return "", ErrNotActionable
		}
		if st.Status == StatusSubmitted {
			return StatusSignedParent, nil
		}
		return "", ErrNotActionable

	case RoleTeacher:
		if st.Status == StatusSubmitted && !st.Minor {
			return StatusValidatedTeacher, nil
		}
		if st.Status == StatusSignedParent {
			return StatusValidatedTeacher, nil
		}
		return "", ErrNotActionable

	case RoleCompany:
		switch st.Status {
		case StatusValidatedTeacher:
			return StatusSignedCompany, nil
		case StatusSignedTutor:
			// Tutor signed first; company completes the pair, status stays.
			return StatusSignedTutor, nil
		}
		return "", ErrNotActionable

	case RoleTutor:
		switch st.Status {
		case StatusValidatedTeacher, StatusSignedCompany:
			return StatusSignedTutor, nil
		}
		return "", ErrNotActionable

	case RoleHead:
		if st.Status == StatusSignedTutor && st.has(RoleCompany) && st.has(RoleTutor) {
			return StatusValidatedHead, nil
		}
		return "", ErrNotActionable
	}

	return "", ErrUnknownRole
}

// IsActionable reports whether the role may currently sign. It re-derives
// from status, est_mineur, and the populated signature keys, and is false
// once the role's own key is set, which is what prevents duplicate signing
// requests from applying twice.
func IsActionable(role Role, c *models.Convention) bool {
	_, err := Next(role, StateOf(c))
	return err == nil
}

// PendingSigners returns, in workflow order, the roles that may currently
// act on the convention. Consumers use it for the "waiting on" display and
// list filters.
func PendingSigners(c *models.Convention) []Role {
	st := StateOf(c)
	var pending []Role
	for _, r := range Roles() {
		if _, err := Next(r, st); err == nil {
			pending = append(pending, r)
		}
	}
	return pending
}

// Reject returns the status after a teacher rejection, or ErrNotActionable
// when the document is terminal or already rejected. Rejection clears no
// signature keys; recovery requires a fresh SUBMITTED cycle.
func Reject(st State) (Status, error) {
	if !st.Status.Rejectable() {
		return "", ErrNotActionable
	}
	return StatusRejected, nil
}

// Resubmit returns the status that restarts the cycle after a rejection.
func Resubmit(st State) (Status, error) {
	if st.Status != StatusRejected {
		return "", ErrNotActionable
	}
	return StatusSubmitted, nil
}

// DualSignRoles is the company-tutor shortcut: with explicit consent one
// signer certifies both the company and tutor roles in a single action.
// The guard is applied per key, exactly as two independent signings.
func DualSignRoles() [2]Role {
	return [2]Role{RoleCompany, RoleTutor}
}
