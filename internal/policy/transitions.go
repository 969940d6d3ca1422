package policy

import "github.com/kentpulse/kentpulse-api/internal/models"

// CanTransition decides whether actor may move issue from its current
// status to the target status. City and assignment scoping is assumed to
// have passed already (CanAccessIssue with OpStatus); this table only
// encodes who may trigger which edge of the lifecycle:
//
//	NEW -> UNDER_REVIEW            admin, municipal worker, assigned field worker
//	NEW -> RESOLVED | REJECTED     admin, municipal worker
//	UNDER_REVIEW -> RESOLVED       admin, municipal worker, assigned field worker
//	UNDER_REVIEW -> REJECTED       admin, municipal worker
//
// RESOLVED and REJECTED are terminal; there is no reopen.
func CanTransition(actor Actor, issue *models.Issue, to models.IssueStatus) bool {
	if issue == nil || !actor.Authenticated || !actor.Active {
		return false
	}
	if !models.ValidStatus(to) {
		return false
	}

	from := issue.Status
	if from.Terminal() || from == to {
		return false
	}

	triage := actor.Role == models.RoleAdmin || actor.Role == models.RoleMunicipalWorker
	assigned := actor.Role == models.RoleFieldWorker && issue.AssignedTo(actor.ID)

	switch from {
	case models.StatusNew:
		if to == models.StatusUnderReview {
			return triage || assigned
		}
		return triage

	case models.StatusUnderReview:
		if to == models.StatusResolved {
			return triage || assigned
		}
		return triage
	}

	return false
}

// ImplicitReviewOnPhoto reports whether a progress-photo upload by the
// actor should advance the issue from NEW to UNDER_REVIEW as a side
// effect.
func ImplicitReviewOnPhoto(actor Actor, issue *models.Issue) bool {
	if issue == nil || issue.Status != models.StatusNew {
		return false
	}
	return issue.AssignedTo(actor.ID)
}
