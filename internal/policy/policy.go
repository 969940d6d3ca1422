// Package policy holds the access-control and lifecycle rules for
// issues as pure functions, so every route enforces the same decision
// table and the rules stay testable without HTTP or database plumbing.
package policy

import (
	"strings"

	"github.com/kentpulse/kentpulse-api/internal/models"
)

// Operation names a kind of access against an issue.
type Operation string

const (
	OpRead          Operation = "read"
	OpUpdate        Operation = "update"
	OpDelete        Operation = "delete"
	OpStatus        Operation = "status"
	OpAssign        Operation = "assign"
	OpUpvote        Operation = "upvote"
	OpComment       Operation = "comment"
	OpRespond       Operation = "respond"
	OpProgressPhoto Operation = "progress_photo"
)

// Actor is the authenticated (or anonymous) principal a decision is
// made for. Built from verified JWT claims, never from request bodies.
type Actor struct {
	ID            string
	Role          models.UserRole
	City          string
	Active        bool
	Authenticated bool
}

// Anonymous returns the unauthenticated actor.
func Anonymous() Actor {
	return Actor{}
}

// ActorFromClaims builds an Actor from verified token claims. Tokens are
// only issued to active accounts and staff deactivation revokes
// sessions, so claims imply an active principal.
func ActorFromClaims(claims *models.JWTClaims) Actor {
	if claims == nil {
		return Anonymous()
	}
	return Actor{
		ID:            claims.UserID,
		Role:          claims.Role,
		City:          claims.City,
		Active:        true,
		Authenticated: true,
	}
}

// SameCity compares municipality names. Case-insensitive on every path.
func SameCity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// CanAccessIssue decides whether actor may perform op on issue.
// Rules are evaluated in order, first match wins:
//
//  1. inactive authenticated actors are denied everything
//  2. progress photos belong to the assigned worker alone
//  3. admins are otherwise unscoped
//  4. reads are public
//  5. deletion is reporter-or-admin only, regardless of staff scope
//  6. municipal workers are scoped to their own city
//  7. field workers are scoped to their assignment
//  8. citizens write to their own issues; upvote and comment are open
//     to any authenticated actor
func CanAccessIssue(actor Actor, issue *models.Issue, op Operation) bool {
	if issue == nil {
		return false
	}
	if actor.Authenticated && !actor.Active {
		return false
	}

	// Progress photos document field work on the ground; nobody but the
	// assigned worker uploads them, admin privilege notwithstanding.
	if op == OpProgressPhoto {
		return actor.Authenticated && issue.AssignedTo(actor.ID)
	}

	if actor.Authenticated && actor.Role == models.RoleAdmin {
		return true
	}

	if op == OpRead {
		return true
	}

	if !actor.Authenticated {
		return false
	}

	if op == OpDelete {
		return issue.ReporterID == actor.ID
	}

	switch actor.Role {
	case models.RoleMunicipalWorker:
		return SameCity(issue.City, actor.City)

	case models.RoleFieldWorker:
		if !issue.AssignedTo(actor.ID) {
			return op == OpUpvote || op == OpComment
		}
		// Assigned field workers may work the issue but official
		// responses and reassignment stay with municipal staff.
		return op != OpRespond && op != OpAssign

	case models.RoleCitizen:
		switch op {
		case OpUpvote, OpComment:
			return true
		case OpUpdate:
			return issue.ReporterID == actor.ID
		}
		return false
	}

	return false
}

// UpdatableFields returns the set of issue fields the actor may change
// through the generic update endpoint. Status, reporter and assignment
// never appear here; they have dedicated guarded operations.
func UpdatableFields(actor Actor, issue *models.Issue) map[string]bool {
	if !actor.Authenticated || !actor.Active || issue == nil {
		return nil
	}

	switch actor.Role {
	case models.RoleAdmin:
		return map[string]bool{
			"title": true, "description": true, "images": true,
			"category": true, "severity": true,
			"address": true, "district": true,
		}
	case models.RoleMunicipalWorker:
		if !SameCity(issue.City, actor.City) {
			return nil
		}
		return map[string]bool{
			"title": true, "description": true, "images": true,
			"category": true, "severity": true,
			"address": true, "district": true,
		}
	case models.RoleCitizen:
		if issue.ReporterID != actor.ID {
			return nil
		}
		return map[string]bool{"title": true, "description": true, "images": true}
	}

	return nil
}

// Scope is the listing pre-filter derived from the actor's role before
// any per-item check runs.
type Scope struct {
	// All grants an unscoped view (admins and the public feed).
	All bool
	// City narrows the view to one municipality.
	City string
	// AssignedWorkerID narrows the view to one worker's assignments.
	AssignedWorkerID string
}

// VisibilityScope returns the listing scope for the actor. Citizens and
// anonymous callers browse the public feed; staff see their slice.
func VisibilityScope(actor Actor) Scope {
	if !actor.Authenticated {
		return Scope{All: true}
	}
	switch actor.Role {
	case models.RoleAdmin:
		return Scope{All: true}
	case models.RoleMunicipalWorker:
		return Scope{City: actor.City}
	case models.RoleFieldWorker:
		return Scope{AssignedWorkerID: actor.ID}
	}
	return Scope{All: true}
}

// CanAssign decides whether actor may set the assigned worker on issue.
// Admins assign anywhere; municipal workers only within their city.
func CanAssign(actor Actor, issue *models.Issue) bool {
	if !actor.Authenticated || !actor.Active || issue == nil {
		return false
	}
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleMunicipalWorker:
		return SameCity(issue.City, actor.City)
	}
	return false
}
