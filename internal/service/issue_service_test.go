package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kentpulse/kentpulse-api/internal/models"
	"github.com/kentpulse/kentpulse-api/internal/policy"
	"github.com/kentpulse/kentpulse-api/internal/repository"
	appErrors "github.com/kentpulse/kentpulse-api/pkg/errors"
)

const (
	uidCitizen       = "0f0e7b3a-7a61-4a5f-9f7e-1c2d3e4f5a6b"
	uidCitizen2      = "1a2b3c4d-5e6f-4a1b-8c2d-3e4f5a6b7c8d"
	uidMunicipal     = "2b3c4d5e-6f7a-4b2c-9d3e-4f5a6b7c8d9e"
	uidOtherCity     = "3c4d5e6f-7a8b-4c3d-8e4f-5a6b7c8d9e0f"
	uidFieldWorker   = "4d5e6f7a-8b9c-4d4e-9f5a-6b7c8d9e0f1a"
	uidInactiveField = "5e6f7a8b-9c0d-4e5f-8a6b-7c8d9e0f1a2b"
	uidAdmin         = "6f7a8b9c-0d1e-4f6a-9b7c-8d9e0f1a2b3c"
)

type mockIssueRepo struct {
	issues     map[string]*models.Issue
	updates    map[string][]models.IssueUpdate
	responses  map[string][]models.OfficialResponse
	comments   map[string]*models.Comment
	likes      map[string]map[string]bool
	photos     map[string][]models.ProgressPhoto
	lastFilter models.IssueFilter
}

func newMockIssueRepo() *mockIssueRepo {
	return &mockIssueRepo{
		issues:    make(map[string]*models.Issue),
		updates:   make(map[string][]models.IssueUpdate),
		responses: make(map[string][]models.OfficialResponse),
		comments:  make(map[string]*models.Comment),
		likes:     make(map[string]map[string]bool),
		photos:    make(map[string][]models.ProgressPhoto),
	}
}

func (m *mockIssueRepo) Create(ctx context.Context, issue *models.Issue) error {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	stored := *issue
	m.issues[issue.ID] = &stored
	return nil
}

func (m *mockIssueRepo) FindByID(ctx context.Context, id string) (*models.Issue, error) {
	if issue, ok := m.issues[id]; ok {
		out := *issue
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockIssueRepo) List(ctx context.Context, filter models.IssueFilter) ([]models.Issue, int, error) {
	m.lastFilter = filter
	var out []models.Issue
	for _, issue := range m.issues {
		if filter.City != "" && !strings.EqualFold(issue.City, filter.City) {
			continue
		}
		if filter.AssignedWorkerID != "" && !issue.AssignedTo(filter.AssignedWorkerID) {
			continue
		}
		if filter.ReporterID != "" && issue.ReporterID != filter.ReporterID {
			continue
		}
		out = append(out, *issue)
	}
	return out, len(out), nil
}

func (m *mockIssueRepo) Update(ctx context.Context, issue *models.Issue) error {
	stored, ok := m.issues[issue.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if stored.Version != issue.Version {
		return repository.ErrVersionMismatch
	}
	issue.Version++
	next := *issue
	m.issues[issue.ID] = &next
	return nil
}

func (m *mockIssueRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.issues[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.issues, id)
	return nil
}

func (m *mockIssueRepo) IncrementUpvotes(ctx context.Context, id string) (int, error) {
	issue, ok := m.issues[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	issue.Upvotes++
	return issue.Upvotes, nil
}

func (m *mockIssueRepo) AppendUpdate(ctx context.Context, entry *models.IssueUpdate) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.updates[entry.IssueID] = append(m.updates[entry.IssueID], *entry)
	return nil
}

func (m *mockIssueRepo) ListUpdates(ctx context.Context, issueID string) ([]models.IssueUpdate, error) {
	return m.updates[issueID], nil
}

func (m *mockIssueRepo) AppendResponse(ctx context.Context, response *models.OfficialResponse) error {
	if response.ID == "" {
		response.ID = uuid.NewString()
	}
	m.responses[response.IssueID] = append(m.responses[response.IssueID], *response)
	return nil
}

func (m *mockIssueRepo) ListResponses(ctx context.Context, issueID string) ([]models.OfficialResponse, error) {
	return m.responses[issueID], nil
}

func (m *mockIssueRepo) AppendComment(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	stored := *comment
	m.comments[comment.ID] = &stored
	return nil
}

func (m *mockIssueRepo) FindCommentByID(ctx context.Context, id string) (*models.Comment, error) {
	comment, ok := m.comments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *comment
	out.Likes = len(m.likes[id])
	return &out, nil
}

func (m *mockIssueRepo) ListComments(ctx context.Context, issueID string) ([]models.Comment, error) {
	var out []models.Comment
	for id, comment := range m.comments {
		if comment.IssueID != issueID {
			continue
		}
		c := *comment
		c.Likes = len(m.likes[id])
		out = append(out, c)
	}
	return out, nil
}

func (m *mockIssueRepo) LikeComment(ctx context.Context, commentID, userID string) (bool, error) {
	if m.likes[commentID] == nil {
		m.likes[commentID] = make(map[string]bool)
	}
	if m.likes[commentID][userID] {
		return false, nil
	}
	m.likes[commentID][userID] = true
	return true, nil
}

func (m *mockIssueRepo) AppendProgressPhoto(ctx context.Context, photo *models.ProgressPhoto) error {
	if photo.ID == "" {
		photo.ID = uuid.NewString()
	}
	m.photos[photo.IssueID] = append(m.photos[photo.IssueID], *photo)
	return nil
}

func (m *mockIssueRepo) ListProgressPhotos(ctx context.Context, issueID string) ([]models.ProgressPhoto, error) {
	return m.photos[issueID], nil
}

func (m *mockIssueRepo) Nearby(ctx context.Context, longitude, latitude, radiusMeters float64, limit int) ([]models.Issue, error) {
	var out []models.Issue
	for _, issue := range m.issues {
		out = append(out, *issue)
	}
	return out, nil
}

type mockIssueUserRepo struct {
	users     map[string]*models.User
	auditLogs []*models.AuditLog
}

func (m *mockIssueUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		out := *user
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockIssueUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockIssueCache struct {
	counters      map[string]int64
	invalidations int
}

func (m *mockIssueCache) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if m.counters == nil {
		m.counters = make(map[string]int64)
	}
	m.counters[key]++
	return m.counters[key], nil
}

func (m *mockIssueCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.invalidations++
	return nil
}

func assertAppErrorCode(t *testing.T, err error, want *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, want.Code, appErr.Code)
}

var (
	citizenActor      = policy.Actor{ID: uidCitizen, Role: models.RoleCitizen, City: "Ankara", Active: true, Authenticated: true}
	otherCitizenActor = policy.Actor{ID: uidCitizen2, Role: models.RoleCitizen, City: "Ankara", Active: true, Authenticated: true}
	municipalActor    = policy.Actor{ID: uidMunicipal, Role: models.RoleMunicipalWorker, City: "Ankara", Active: true, Authenticated: true}
	otherCityActor    = policy.Actor{ID: uidOtherCity, Role: models.RoleMunicipalWorker, City: "Izmir", Active: true, Authenticated: true}
	fieldActor        = policy.Actor{ID: uidFieldWorker, Role: models.RoleFieldWorker, City: "Ankara", Active: true, Authenticated: true}
	adminActor        = policy.Actor{ID: uidAdmin, Role: models.RoleAdmin, Active: true, Authenticated: true}
)

func newIssueFixture(limits IssueLimits) (*IssueService, *mockIssueRepo, *mockIssueUserRepo, *mockIssueCache) {
	repo := newMockIssueRepo()
	users := &mockIssueUserRepo{users: map[string]*models.User{
		uidCitizen:       {ID: uidCitizen, Role: models.RoleCitizen, City: "Ankara", Active: true},
		uidMunicipal:     {ID: uidMunicipal, Role: models.RoleMunicipalWorker, City: "Ankara", Active: true},
		uidFieldWorker:   {ID: uidFieldWorker, Role: models.RoleFieldWorker, City: "Ankara", Active: true},
		uidInactiveField: {ID: uidInactiveField, Role: models.RoleFieldWorker, City: "Ankara", Active: false},
	}}
	cache := &mockIssueCache{}
	svc := NewIssueService(repo, users, cache, validator.New(), zap.NewNop(), limits)
	return svc, repo, users, cache
}

func validCreateRequest() models.CreateIssueRequest {
	return models.CreateIssueRequest{
		Title:       "Broken streetlight",
		Description: "The light at the corner has been out for a week.",
		Category:    models.CategoryInfrastructure,
		Severity:    models.SeverityMedium,
		Address:     "Atatürk Blv. 12",
		District:    "Çankaya",
		City:        "Ankara",
		Longitude:   32.85,
		Latitude:    39.92,
	}
}

func seedIssue(t *testing.T, svc *IssueService) *models.Issue {
	t.Helper()
	issue, err := svc.Create(context.Background(), citizenActor, validCreateRequest())
	require.NoError(t, err)
	return issue
}

func TestCreateIssueForcesServerControlledFields(t *testing.T) {
	svc, repo, _, _ := newIssueFixture(IssueLimits{})

	issue, err := svc.Create(context.Background(), citizenActor, validCreateRequest())
	require.NoError(t, err)

	assert.Equal(t, models.StatusNew, issue.Status)
	assert.Equal(t, 0, issue.Upvotes)
	assert.Equal(t, uidCitizen, issue.ReporterID)
	assert.Nil(t, issue.AssignedWorkerID)
	assert.Equal(t, 1, issue.Version)
	// Creation is not a transition; the history log starts empty.
	assert.Empty(t, repo.updates[issue.ID])
}

func TestCreateIssueRequiresAuthentication(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})

	_, err := svc.Create(context.Background(), policy.Anonymous(), validCreateRequest())
	assertAppErrorCode(t, err, appErrors.ErrUnauthorized)
}

func TestCreateIssueRejectsUnknownCategory(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})

	req := validCreateRequest()
	req.Category = "Aliens"
	_, err := svc.Create(context.Background(), citizenActor, req)
	assertAppErrorCode(t, err, appErrors.ErrValidation)
}

func TestCreateIssueRateLimited(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{Enabled: true, PerDay: 2, CounterPrefix: "test:limit"})

	for i := 0; i < 2; i++ {
		_, err := svc.Create(context.Background(), citizenActor, validCreateRequest())
		require.NoError(t, err)
	}
	_, err := svc.Create(context.Background(), citizenActor, validCreateRequest())
	assertAppErrorCode(t, err, appErrors.ErrRateLimited)
}

func TestUpdateReporterOnly(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	title := "Updated title"
	req := models.UpdateIssueRequest{Title: &title, Version: issue.Version}

	_, err := svc.Update(context.Background(), otherCitizenActor, issue.ID, req)
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	updated, err := svc.Update(context.Background(), citizenActor, issue.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "Updated title", updated.Title)
	assert.Equal(t, issue.Version+1, updated.Version)
}

func TestUpdateCitizenCannotTouchTriageFields(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	severity := models.SeverityCritical
	req := models.UpdateIssueRequest{Severity: &severity, Version: issue.Version}

	_, err := svc.Update(context.Background(), citizenActor, issue.ID, req)
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	// Municipal staff in the issue's city may retriage.
	updated, err := svc.Update(context.Background(), municipalActor, issue.ID, req)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, updated.Severity)
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	title := "First writer"
	req := models.UpdateIssueRequest{Title: &title, Version: issue.Version}
	_, err := svc.Update(context.Background(), citizenActor, issue.ID, req)
	require.NoError(t, err)

	stale := "Second writer with stale read"
	_, err = svc.Update(context.Background(), citizenActor, issue.ID, models.UpdateIssueRequest{Title: &stale, Version: issue.Version})
	assertAppErrorCode(t, err, appErrors.ErrConflict)
}

func TestStatusLifecycleAppendsHistory(t *testing.T) {
	svc, repo, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	reviewed, err := svc.ChangeStatus(context.Background(), municipalActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusUnderReview, Note: "triaged", Version: 1})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, reviewed.Status)

	resolved, err := svc.ChangeStatus(context.Background(), municipalActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusResolved, Note: "fixed", Version: reviewed.Version})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)

	// Two transitions, exactly two history entries.
	history := repo.updates[issue.ID]
	require.Len(t, history, 2)
	assert.Equal(t, models.StatusUnderReview, history[0].Status)
	assert.Equal(t, models.StatusResolved, history[1].Status)
	assert.Equal(t, uidMunicipal, history[0].ActorID)
}

func TestTerminalStatusIsClosed(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	resolved, err := svc.ChangeStatus(context.Background(), municipalActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusResolved, Version: 1})
	require.NoError(t, err)

	_, err = svc.ChangeStatus(context.Background(), municipalActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusUnderReview, Version: resolved.Version})
	assertAppErrorCode(t, err, appErrors.ErrValidation)

	_, err = svc.ChangeStatus(context.Background(), adminActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusNew, Version: resolved.Version})
	assertAppErrorCode(t, err, appErrors.ErrValidation)
}

func TestStatusUnknownValueRejected(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	_, err := svc.ChangeStatus(context.Background(), municipalActor, issue.ID, models.ChangeStatusRequest{Status: "Çözüldü", Version: 1})
	assertAppErrorCode(t, err, appErrors.ErrValidation)
}

func TestCitizenCannotChangeStatus(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	_, err := svc.ChangeStatus(context.Background(), citizenActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusResolved, Version: 1})
	assertAppErrorCode(t, err, appErrors.ErrForbidden)
}

func TestMunicipalWorkerScopedToOwnCity(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	_, err := svc.ChangeStatus(context.Background(), otherCityActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusUnderReview, Version: 1})
	assertAppErrorCode(t, err, appErrors.ErrForbidden)
}

func TestFieldWorkerScopedToAssignment(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	_, err := svc.ChangeStatus(context.Background(), fieldActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusUnderReview, Version: 1})
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	assigned, err := svc.Assign(context.Background(), municipalActor, issue.ID, models.AssignIssueRequest{WorkerID: uidFieldWorker, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, assigned.Status)

	// Rejection stays with triage staff even for the assigned worker.
	_, err = svc.ChangeStatus(context.Background(), fieldActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusRejected, Version: assigned.Version})
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	resolved, err := svc.ChangeStatus(context.Background(), fieldActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusResolved, Version: assigned.Version})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
}

func TestResolveAutoAssignsUnassignedWorker(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	resolved, err := svc.ChangeStatus(context.Background(), municipalActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusResolved, Version: 1})
	require.NoError(t, err)
	require.NotNil(t, resolved.AssignedWorkerID)
	assert.Equal(t, uidMunicipal, *resolved.AssignedWorkerID)
}

func TestTriageTransitionDoesNotClaimIssue(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	// Auto-assignment is reserved for resolution; moving an issue into
	// review leaves it unclaimed.
	reviewed, err := svc.ChangeStatus(context.Background(), municipalActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusUnderReview, Version: 1})
	require.NoError(t, err)
	assert.Nil(t, reviewed.AssignedWorkerID)

	rejected, err := svc.ChangeStatus(context.Background(), municipalActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusRejected, Version: reviewed.Version})
	require.NoError(t, err)
	assert.Nil(t, rejected.AssignedWorkerID)
}

func TestAssignRequiresFieldWorkerTarget(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	_, err := svc.Assign(context.Background(), municipalActor, issue.ID, models.AssignIssueRequest{WorkerID: uidCitizen, Version: 1})
	assertAppErrorCode(t, err, appErrors.ErrValidation)

	// Municipal workers triage; they are not assignable field staff.
	_, err = svc.Assign(context.Background(), municipalActor, issue.ID, models.AssignIssueRequest{WorkerID: uidMunicipal, Version: 1})
	assertAppErrorCode(t, err, appErrors.ErrValidation)

	_, err = svc.Assign(context.Background(), municipalActor, issue.ID, models.AssignIssueRequest{WorkerID: uidInactiveField, Version: 1})
	assertAppErrorCode(t, err, appErrors.ErrValidation)

	_, err = svc.Assign(context.Background(), citizenActor, issue.ID, models.AssignIssueRequest{WorkerID: uidFieldWorker, Version: 1})
	assertAppErrorCode(t, err, appErrors.ErrForbidden)
}

func TestAssignNewIssueStartsReview(t *testing.T) {
	svc, repo, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	assigned, err := svc.Assign(context.Background(), municipalActor, issue.ID, models.AssignIssueRequest{WorkerID: uidFieldWorker, Version: 1})
	require.NoError(t, err)
	require.NotNil(t, assigned.AssignedWorkerID)
	assert.Equal(t, uidFieldWorker, *assigned.AssignedWorkerID)

	// Handing the issue to a worker is the start of triage.
	assert.Equal(t, models.StatusUnderReview, assigned.Status)
	require.Len(t, repo.updates[issue.ID], 1)
	assert.Equal(t, models.StatusUnderReview, repo.updates[issue.ID][0].Status)

	// Reassigning an issue already in review does not add history.
	_, err = svc.Assign(context.Background(), adminActor, issue.ID, models.AssignIssueRequest{WorkerID: uidFieldWorker, Version: assigned.Version})
	require.NoError(t, err)
	assert.Len(t, repo.updates[issue.ID], 1)
}

func TestDeleteReporterOrAdminOnly(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})

	first := seedIssue(t, svc)
	err := svc.Delete(context.Background(), municipalActor, first.ID)
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	require.NoError(t, svc.Delete(context.Background(), citizenActor, first.ID))

	second := seedIssue(t, svc)
	require.NoError(t, svc.Delete(context.Background(), adminActor, second.ID))
}

func TestUpvoteCountsEveryCall(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	count, err := svc.Upvote(context.Background(), otherCitizenActor, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = svc.Upvote(context.Background(), otherCitizenActor, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpvoteClosedIssueRejected(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	_, err := svc.ChangeStatus(context.Background(), municipalActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusRejected, Version: 1})
	require.NoError(t, err)

	_, err = svc.Upvote(context.Background(), otherCitizenActor, issue.ID)
	assertAppErrorCode(t, err, appErrors.ErrValidation)
}

func TestCommentReplyValidation(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	comment, err := svc.Comment(context.Background(), otherCitizenActor, issue.ID, models.CommentRequest{Text: "Same on my street."})
	require.NoError(t, err)

	reply, err := svc.Comment(context.Background(), citizenActor, issue.ID, models.CommentRequest{Text: "Reported last week.", ParentID: &comment.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, comment.ID, *reply.ParentID)

	missing := uuid.NewString()
	_, err = svc.Comment(context.Background(), citizenActor, issue.ID, models.CommentRequest{Text: "orphan", ParentID: &missing})
	assertAppErrorCode(t, err, appErrors.ErrValidation)
}

func TestCommentReplyMustShareIssue(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	first := seedIssue(t, svc)
	second := seedIssue(t, svc)

	comment, err := svc.Comment(context.Background(), citizenActor, first.ID, models.CommentRequest{Text: "On the first issue."})
	require.NoError(t, err)

	_, err = svc.Comment(context.Background(), citizenActor, second.ID, models.CommentRequest{Text: "Cross-thread reply.", ParentID: &comment.ID})
	assertAppErrorCode(t, err, appErrors.ErrValidation)
}

func TestLikeCommentOncePerUser(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	comment, err := svc.Comment(context.Background(), citizenActor, issue.ID, models.CommentRequest{Text: "Agree."})
	require.NoError(t, err)

	liked, err := svc.LikeComment(context.Background(), otherCitizenActor, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, liked.Likes)

	liked, err = svc.LikeComment(context.Background(), otherCitizenActor, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, liked.Likes)
}

func TestRespondLimitedToMunicipalStaff(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	_, err := svc.Respond(context.Background(), citizenActor, issue.ID, models.RespondRequest{Text: "We are on it."})
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	_, err = svc.Respond(context.Background(), otherCityActor, issue.ID, models.RespondRequest{Text: "We are on it."})
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	first, err := svc.Respond(context.Background(), municipalActor, issue.ID, models.RespondRequest{Text: "Crew scheduled."})
	require.NoError(t, err)
	assert.Equal(t, uidMunicipal, first.ResponderID)

	// Responses append; the earlier entry stays on record.
	_, err = svc.Respond(context.Background(), municipalActor, issue.ID, models.RespondRequest{Text: "Crew on site."})
	require.NoError(t, err)

	detail, err := svc.Get(context.Background(), policy.Anonymous(), issue.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Responses, 2)
}

func TestProgressPhotoImplicitReview(t *testing.T) {
	svc, repo, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	// Assignment recorded out of band so the issue is still NEW when
	// the first photo arrives.
	workerID := uidFieldWorker
	repo.issues[issue.ID].AssignedWorkerID = &workerID

	photo, err := svc.AddProgressPhoto(context.Background(), fieldActor, issue.ID, models.ProgressPhotoRequest{URL: "https://cdn.example.com/photos/1.jpg"})
	require.NoError(t, err)
	assert.Equal(t, uidFieldWorker, photo.UploaderID)

	stored, err := repo.FindByID(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, stored.Status)
	require.Len(t, repo.updates[issue.ID], 1)
	assert.Equal(t, models.StatusUnderReview, repo.updates[issue.ID][0].Status)
}

func TestProgressPhotoAssignedWorkerOnly(t *testing.T) {
	svc, _, _, _ := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)

	req := models.ProgressPhotoRequest{URL: "https://cdn.example.com/photos/2.jpg"}

	// Nobody but the assigned worker documents field work, city and
	// admin privileges notwithstanding.
	_, err := svc.AddProgressPhoto(context.Background(), municipalActor, issue.ID, req)
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	_, err = svc.AddProgressPhoto(context.Background(), adminActor, issue.ID, req)
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	_, err = svc.AddProgressPhoto(context.Background(), fieldActor, issue.ID, req)
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	assigned, err := svc.Assign(context.Background(), municipalActor, issue.ID, models.AssignIssueRequest{WorkerID: uidFieldWorker, Version: 1})
	require.NoError(t, err)
	require.NotNil(t, assigned.AssignedWorkerID)

	_, err = svc.AddProgressPhoto(context.Background(), fieldActor, issue.ID, req)
	require.NoError(t, err)
}

func TestListVisibilityScopes(t *testing.T) {
	svc, repo, _, _ := newIssueFixture(IssueLimits{})
	seedIssue(t, svc)

	_, _, err := svc.List(context.Background(), municipalActor, models.IssueFilter{})
	require.NoError(t, err)
	assert.Equal(t, "Ankara", repo.lastFilter.City)

	_, _, err = svc.List(context.Background(), fieldActor, models.IssueFilter{})
	require.NoError(t, err)
	assert.Equal(t, uidFieldWorker, repo.lastFilter.AssignedWorkerID)

	// Citizens and anonymous callers browse the public feed unscoped.
	_, _, err = svc.List(context.Background(), policy.Anonymous(), models.IssueFilter{})
	require.NoError(t, err)
	assert.Empty(t, repo.lastFilter.City)
	assert.Empty(t, repo.lastFilter.AssignedWorkerID)

	issues, total, err := svc.ListMine(context.Background(), citizenActor, models.IssueFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, issues, 1)
	assert.Equal(t, uidCitizen, issues[0].ReporterID)
}

func TestMutationsInvalidateDashboardCache(t *testing.T) {
	svc, _, _, cache := newIssueFixture(IssueLimits{})
	issue := seedIssue(t, svc)
	created := cache.invalidations
	require.Positive(t, created)

	_, err := svc.ChangeStatus(context.Background(), municipalActor, issue.ID, models.ChangeStatusRequest{Status: models.StatusUnderReview, Version: 1})
	require.NoError(t, err)
	assert.Greater(t, cache.invalidations, created)
}
