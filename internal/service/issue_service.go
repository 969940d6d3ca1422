package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kentpulse/kentpulse-api/internal/models"
	"github.com/kentpulse/kentpulse-api/internal/policy"
	"github.com/kentpulse/kentpulse-api/internal/repository"
	appErrors "github.com/kentpulse/kentpulse-api/pkg/errors"
)

type issueRepositoryPort interface {
	Create(ctx context.Context, issue *models.Issue) error
	FindByID(ctx context.Context, id string) (*models.Issue, error)
	List(ctx context.Context, filter models.IssueFilter) ([]models.Issue, int, error)
	Update(ctx context.Context, issue *models.Issue) error
	Delete(ctx context.Context, id string) error
	IncrementUpvotes(ctx context.Context, id string) (int, error)
	AppendUpdate(ctx context.Context, entry *models.IssueUpdate) error
	ListUpdates(ctx context.Context, issueID string) ([]models.IssueUpdate, error)
	AppendResponse(ctx context.Context, response *models.OfficialResponse) error
	ListResponses(ctx context.Context, issueID string) ([]models.OfficialResponse, error)
	AppendComment(ctx context.Context, comment *models.Comment) error
	FindCommentByID(ctx context.Context, id string) (*models.Comment, error)
	ListComments(ctx context.Context, issueID string) ([]models.Comment, error)
	LikeComment(ctx context.Context, commentID, userID string) (bool, error)
	AppendProgressPhoto(ctx context.Context, photo *models.ProgressPhoto) error
	ListProgressPhotos(ctx context.Context, issueID string) ([]models.ProgressPhoto, error)
	Nearby(ctx context.Context, longitude, latitude, radiusMeters float64, limit int) ([]models.Issue, error)
}

type issueUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type issueCachePort interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	DeleteByPattern(ctx context.Context, pattern string) error
}

// IssueLimits bounds how fast a single citizen may file issues.
type IssueLimits struct {
	Enabled       bool
	PerDay        int64
	CounterPrefix string
}

// IssueService orchestrates the issue lifecycle: submission, scoped
// listing, guarded edits, status transitions, assignment, and the
// append-only comment, response, history and photo logs.
type IssueService struct {
	repo      issueRepositoryPort
	users     issueUserRepository
	cache     issueCachePort
	validator *validator.Validate
	logger    *zap.Logger
	limits    IssueLimits
}

// NewIssueService constructs an IssueService.
func NewIssueService(repo issueRepositoryPort, users issueUserRepository, cache issueCachePort, validate *validator.Validate, logger *zap.Logger, limits IssueLimits) *IssueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &IssueService{repo: repo, users: users, cache: cache, validator: validate, logger: logger, limits: limits}
}

const dashboardCachePattern = "kentpulse:dashboard:*"

// Create files a new issue for the acting citizen. Server-controlled
// fields are forced regardless of payload: status NEW, zero votes,
// version 1, reporter = actor.
func (s *IssueService) Create(ctx context.Context, actor policy.Actor, req models.CreateIssueRequest) (*models.Issue, error) {
	if !actor.Authenticated {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required to report an issue")
	}
	if !actor.Active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account is inactive")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid issue payload")
	}
	if !models.ValidCategory(req.Category) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown category %q", req.Category))
	}
	if !models.ValidSeverity(req.Severity) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown severity %q", req.Severity))
	}

	if err := s.enforceSubmitLimit(ctx, actor.ID); err != nil {
		return nil, err
	}

	issue := &models.Issue{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Category:    req.Category,
		Severity:    req.Severity,
		Status:      models.StatusNew,
		Address:     strings.TrimSpace(req.Address),
		District:    strings.TrimSpace(req.District),
		City:        strings.TrimSpace(req.City),
		Longitude:   req.Longitude,
		Latitude:    req.Latitude,
		Images:      pq.StringArray(req.Images),
		Upvotes:     0,
		ReporterID:  actor.ID,
		Version:     1,
	}
	if issue.Images == nil {
		issue.Images = pq.StringArray{}
	}

	if err := s.repo.Create(ctx, issue); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create issue")
	}

	s.invalidateDashboards(ctx)
	return issue, nil
}

func (s *IssueService) enforceSubmitLimit(ctx context.Context, userID string) error {
	if !s.limits.Enabled || s.cache == nil {
		return nil
	}
	key := fmt.Sprintf("%s:%s:%s", s.limits.CounterPrefix, userID, time.Now().UTC().Format("2006-01-02"))
	count, err := s.cache.IncrementWindow(ctx, key, 24*time.Hour)
	if err != nil {
		s.logger.Warn("issue rate limit check failed, allowing request", zap.Error(err))
		return nil
	}
	if s.limits.PerDay > 0 && count > s.limits.PerDay {
		return appErrors.Clone(appErrors.ErrRateLimited, "daily issue submission limit reached")
	}
	return nil
}

// Get returns an issue with its sub-collections. Reads are public.
func (s *IssueService) Get(ctx context.Context, actor policy.Actor, id string) (*models.IssueDetail, error) {
	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAccessIssue(actor, issue, policy.OpRead) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this issue")
	}

	detail := &models.IssueDetail{Issue: *issue}
	if detail.Updates, err = s.repo.ListUpdates(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issue history")
	}
	if detail.Responses, err = s.repo.ListResponses(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load official responses")
	}
	if detail.ProgressPhotos, err = s.repo.ListProgressPhotos(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress photos")
	}
	return detail, nil
}

// List returns issues the actor may see, pre-filtered by the role's
// visibility scope before caller filters apply.
func (s *IssueService) List(ctx context.Context, actor policy.Actor, filter models.IssueFilter) ([]models.Issue, int, error) {
	scope := policy.VisibilityScope(actor)
	if !scope.All {
		filter.City = scope.City
		filter.AssignedWorkerID = scope.AssignedWorkerID
	} else {
		filter.AssignedWorkerID = ""
	}

	issues, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list issues")
	}
	return issues, total, nil
}

// ListMine returns the actor's own reports.
func (s *IssueService) ListMine(ctx context.Context, actor policy.Actor, filter models.IssueFilter) ([]models.Issue, int, error) {
	if !actor.Authenticated {
		return nil, 0, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	filter.City = ""
	filter.AssignedWorkerID = ""
	filter.ReporterID = actor.ID

	issues, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list issues")
	}
	return issues, total, nil
}

// Update applies a partial edit after checking the actor's permitted
// field set and the version the client read.
func (s *IssueService) Update(ctx context.Context, actor policy.Actor, id string, req models.UpdateIssueRequest) (*models.Issue, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAccessIssue(actor, issue, policy.OpUpdate) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to edit this issue")
	}
	if req.Version != issue.Version {
		return nil, appErrors.Clone(appErrors.ErrConflict, "issue was modified by someone else, reload and retry")
	}

	allowed := policy.UpdatableFields(actor, issue)

	apply := func(field string, set func()) error {
		if !allowed[field] {
			return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("field %q is not editable for your role", field))
		}
		set()
		return nil
	}

	if req.Title != nil {
		if err := apply("title", func() { issue.Title = strings.TrimSpace(*req.Title) }); err != nil {
			return nil, err
		}
	}
	if req.Description != nil {
		if err := apply("description", func() { issue.Description = strings.TrimSpace(*req.Description) }); err != nil {
			return nil, err
		}
	}
	if req.Category != nil {
		if !models.ValidCategory(*req.Category) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown category %q", *req.Category))
		}
		if err := apply("category", func() { issue.Category = *req.Category }); err != nil {
			return nil, err
		}
	}
	if req.Severity != nil {
		if !models.ValidSeverity(*req.Severity) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown severity %q", *req.Severity))
		}
		if err := apply("severity", func() { issue.Severity = *req.Severity }); err != nil {
			return nil, err
		}
	}
	if req.Address != nil {
		if err := apply("address", func() { issue.Address = strings.TrimSpace(*req.Address) }); err != nil {
			return nil, err
		}
	}
	if req.District != nil {
		if err := apply("district", func() { issue.District = strings.TrimSpace(*req.District) }); err != nil {
			return nil, err
		}
	}
	if req.Images != nil {
		if err := apply("images", func() { issue.Images = pq.StringArray(*req.Images) }); err != nil {
			return nil, err
		}
	}

	if err := s.persist(ctx, issue); err != nil {
		return nil, err
	}

	s.invalidateDashboards(ctx)
	return issue, nil
}

// ChangeStatus moves an issue along its lifecycle, appending one entry
// to the status history. Terminal states admit no further transitions.
func (s *IssueService) ChangeStatus(ctx context.Context, actor policy.Actor, id string, req models.ChangeStatusRequest) (*models.Issue, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !models.ValidStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", req.Status))
	}

	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAccessIssue(actor, issue, policy.OpStatus) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to change status of this issue")
	}
	if issue.Status.Terminal() || issue.Status == req.Status {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot transition from %s to %s", issue.Status, req.Status))
	}
	if !policy.CanTransition(actor, issue, req.Status) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("your role may not move this issue to %s", req.Status))
	}
	if req.Version != issue.Version {
		return nil, appErrors.Clone(appErrors.ErrConflict, "issue was modified by someone else, reload and retry")
	}

	oldStatus := issue.Status
	issue.Status = req.Status

	// A worker closing out unassigned triage work becomes its owner, so
	// resolved issues always name who handled them. Other transitions
	// leave assignment alone.
	if req.Status == models.StatusResolved && issue.AssignedWorkerID == nil && actor.Role.IsWorker() {
		workerID := actor.ID
		issue.AssignedWorkerID = &workerID
	}

	if err := s.persist(ctx, issue); err != nil {
		return nil, err
	}

	if err := s.repo.AppendUpdate(ctx, &models.IssueUpdate{
		IssueID: issue.ID,
		Status:  issue.Status,
		Note:    strings.TrimSpace(req.Note),
		ActorID: actor.ID,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append status history")
	}

	s.audit(ctx, actor.ID, models.AuditActionIssueStatus, issue.ID, map[string]string{"from": string(oldStatus), "to": string(issue.Status)})
	s.invalidateDashboards(ctx)
	return issue, nil
}

// Assign hands an issue to a field worker. Assigning a NEW issue means
// triage has looked at it, so the status advances to UNDER_REVIEW with
// a history entry.
func (s *IssueService) Assign(ctx context.Context, actor policy.Actor, id string, req models.AssignIssueRequest) (*models.Issue, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAssign(actor, issue) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to assign this issue")
	}
	if issue.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "closed issues cannot be reassigned")
	}
	if req.Version != issue.Version {
		return nil, appErrors.Clone(appErrors.ErrConflict, "issue was modified by someone else, reload and retry")
	}

	worker, err := s.users.FindByID(ctx, req.WorkerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "assigned user does not exist")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up worker")
	}
	if worker.Role != models.RoleFieldWorker {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned user must be a field worker")
	}
	if !worker.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned worker account is inactive")
	}

	issue.AssignedWorkerID = &worker.ID
	startedReview := issue.Status == models.StatusNew
	if startedReview {
		issue.Status = models.StatusUnderReview
	}
	if err := s.persist(ctx, issue); err != nil {
		return nil, err
	}

	if startedReview {
		if err := s.repo.AppendUpdate(ctx, &models.IssueUpdate{
			IssueID: issue.ID,
			Status:  issue.Status,
			Note:    "assigned for review",
			ActorID: actor.ID,
		}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append status history")
		}
		s.invalidateDashboards(ctx)
	}

	s.audit(ctx, actor.ID, models.AuditActionIssueAssign, issue.ID, map[string]string{"worker_id": worker.ID})
	return issue, nil
}

// Delete removes an issue and its sub-collections. Only the reporter or
// an admin may delete, staff city scope notwithstanding.
func (s *IssueService) Delete(ctx context.Context, actor policy.Actor, id string) error {
	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return err
	}
	if !policy.CanAccessIssue(actor, issue, policy.OpDelete) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the reporter or an administrator may delete an issue")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete issue")
	}

	s.audit(ctx, actor.ID, models.AuditActionIssueDelete, id, nil)
	s.invalidateDashboards(ctx)
	return nil
}

// Upvote bumps the support counter and returns the new total. Votes are
// a popularity signal, not a ballot; repeat votes count.
func (s *IssueService) Upvote(ctx context.Context, actor policy.Actor, id string) (int, error) {
	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return 0, err
	}
	if !policy.CanAccessIssue(actor, issue, policy.OpUpvote) {
		return 0, appErrors.Clone(appErrors.ErrForbidden, "not allowed to upvote this issue")
	}
	if issue.Status.Terminal() {
		return 0, appErrors.Clone(appErrors.ErrValidation, "closed issues cannot be upvoted")
	}

	upvotes, err := s.repo.IncrementUpvotes(ctx, id)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record upvote")
	}
	return upvotes, nil
}

// ListUpdates returns the append-only status history.
func (s *IssueService) ListUpdates(ctx context.Context, actor policy.Actor, id string) ([]models.IssueUpdate, error) {
	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAccessIssue(actor, issue, policy.OpRead) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this issue")
	}
	updates, err := s.repo.ListUpdates(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issue history")
	}
	return updates, nil
}

// Comment appends a comment or reply to an issue.
func (s *IssueService) Comment(ctx context.Context, actor policy.Actor, id string, req models.CommentRequest) (*models.Comment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}

	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAccessIssue(actor, issue, policy.OpComment) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to comment on this issue")
	}

	if req.ParentID != nil {
		parent, err := s.repo.FindCommentByID(ctx, *req.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "parent comment does not exist")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up parent comment")
		}
		if parent.IssueID != issue.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "parent comment belongs to another issue")
		}
	}

	comment := &models.Comment{
		IssueID:  issue.ID,
		ParentID: req.ParentID,
		AuthorID: actor.ID,
		Text:     strings.TrimSpace(req.Text),
	}
	if err := s.repo.AppendComment(ctx, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store comment")
	}
	return comment, nil
}

// ListComments returns the comment thread for an issue.
func (s *IssueService) ListComments(ctx context.Context, actor policy.Actor, id string) ([]models.Comment, error) {
	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAccessIssue(actor, issue, policy.OpRead) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this issue")
	}
	comments, err := s.repo.ListComments(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comments")
	}
	return comments, nil
}

// LikeComment records one like per user per comment and returns the
// refreshed comment.
func (s *IssueService) LikeComment(ctx context.Context, actor policy.Actor, commentID string) (*models.Comment, error) {
	if !actor.Authenticated {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if !actor.Active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account is inactive")
	}

	if _, err := s.repo.FindCommentByID(ctx, commentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "comment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comment")
	}

	if _, err := s.repo.LikeComment(ctx, commentID, actor.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record like")
	}

	comment, err := s.repo.FindCommentByID(ctx, commentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload comment")
	}
	return comment, nil
}

// Respond appends an official municipal response. The newest entry is
// the current response; earlier entries remain on record.
func (s *IssueService) Respond(ctx context.Context, actor policy.Actor, id string, req models.RespondRequest) (*models.OfficialResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid response payload")
	}

	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAccessIssue(actor, issue, policy.OpRespond) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to respond to this issue")
	}

	response := &models.OfficialResponse{
		IssueID:     issue.ID,
		ResponderID: actor.ID,
		Text:        strings.TrimSpace(req.Text),
	}
	if err := s.repo.AppendResponse(ctx, response); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store official response")
	}
	return response, nil
}

// AddProgressPhoto attaches a field-work photo. A photo on a NEW issue
// from its assigned worker advances it to UNDER_REVIEW.
func (s *IssueService) AddProgressPhoto(ctx context.Context, actor policy.Actor, id string, req models.ProgressPhotoRequest) (*models.ProgressPhoto, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid photo payload")
	}

	issue, err := s.loadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAccessIssue(actor, issue, policy.OpProgressPhoto) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to add photos to this issue")
	}

	if policy.ImplicitReviewOnPhoto(actor, issue) {
		issue.Status = models.StatusUnderReview
		if err := s.persist(ctx, issue); err != nil {
			return nil, err
		}
		if err := s.repo.AppendUpdate(ctx, &models.IssueUpdate{
			IssueID: issue.ID,
			Status:  issue.Status,
			Note:    "work started",
			ActorID: actor.ID,
		}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append status history")
		}
		s.invalidateDashboards(ctx)
	}

	photo := &models.ProgressPhoto{
		IssueID:    issue.ID,
		UploaderID: actor.ID,
		URL:        strings.TrimSpace(req.URL),
	}
	if err := s.repo.AppendProgressPhoto(ctx, photo); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store progress photo")
	}
	return photo, nil
}

// Nearby returns issues around a point. Open to everyone.
func (s *IssueService) Nearby(ctx context.Context, req models.NearbyRequest) ([]models.Issue, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid nearby query")
	}
	radius := req.RadiusMeters
	if radius <= 0 {
		radius = 1000
	}

	issues, err := s.repo.Nearby(ctx, req.Longitude, req.Latitude, radius, req.Limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to query nearby issues")
	}
	return issues, nil
}

func (s *IssueService) loadIssue(ctx context.Context, id string) (*models.Issue, error) {
	issue, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issue")
	}
	return issue, nil
}

func (s *IssueService) persist(ctx context.Context, issue *models.Issue) error {
	if err := s.repo.Update(ctx, issue); err != nil {
		if errors.Is(err, repository.ErrVersionMismatch) {
			return appErrors.Clone(appErrors.ErrConflict, "issue was modified by someone else, reload and retry")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update issue")
	}
	return nil
}

func (s *IssueService) audit(ctx context.Context, actorID, action, issueID string, values map[string]string) {
	var payload []byte
	if values != nil {
		payload, _ = json.Marshal(values)
	}
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "issue",
		ResourceID: &issueID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record issue audit log", zap.Error(err), zap.String("action", action))
	}
}

func (s *IssueService) invalidateDashboards(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, dashboardCachePattern); err != nil {
		s.logger.Warn("failed to invalidate dashboard cache", zap.Error(err))
	}
}
