package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kentpulse/kentpulse-api/internal/middleware"
	"github.com/kentpulse/kentpulse-api/internal/models"
	"github.com/kentpulse/kentpulse-api/internal/repository"
	"github.com/kentpulse/kentpulse-api/internal/service"
	appErrors "github.com/kentpulse/kentpulse-api/pkg/errors"
	"github.com/kentpulse/kentpulse-api/pkg/response"
)

const (
	handlerTestSecret = "handler-test-secret"
	handlerUIDCitizen = "7a8b9c0d-1e2f-4a7b-8c9d-0e1f2a3b4c5d"
	handlerUIDStaff   = "8b9c0d1e-2f3a-4b8c-9d0e-1f2a3b4c5d6e"
	handlerUIDWorker  = "9c0d1e2f-3a4b-4c9d-8e1f-2a3b4c5d6e7f"
)

// fakeIssueStore is an in-memory issue repository for route tests.
type fakeIssueStore struct {
	issues  map[string]*models.Issue
	updates map[string][]models.IssueUpdate
}

func newFakeIssueStore() *fakeIssueStore {
	return &fakeIssueStore{
		issues:  make(map[string]*models.Issue),
		updates: make(map[string][]models.IssueUpdate),
	}
}

func (f *fakeIssueStore) Create(ctx context.Context, issue *models.Issue) error {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	stored := *issue
	f.issues[issue.ID] = &stored
	return nil
}

func (f *fakeIssueStore) FindByID(ctx context.Context, id string) (*models.Issue, error) {
	if issue, ok := f.issues[id]; ok {
		out := *issue
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeIssueStore) List(ctx context.Context, filter models.IssueFilter) ([]models.Issue, int, error) {
	var out []models.Issue
	for _, issue := range f.issues {
		out = append(out, *issue)
	}
	return out, len(out), nil
}

func (f *fakeIssueStore) Update(ctx context.Context, issue *models.Issue) error {
	stored, ok := f.issues[issue.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if stored.Version != issue.Version {
		return repository.ErrVersionMismatch
	}
	issue.Version++
	next := *issue
	f.issues[issue.ID] = &next
	return nil
}

func (f *fakeIssueStore) Delete(ctx context.Context, id string) error {
	delete(f.issues, id)
	return nil
}

func (f *fakeIssueStore) IncrementUpvotes(ctx context.Context, id string) (int, error) {
	issue, ok := f.issues[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	issue.Upvotes++
	return issue.Upvotes, nil
}

func (f *fakeIssueStore) AppendUpdate(ctx context.Context, entry *models.IssueUpdate) error {
	f.updates[entry.IssueID] = append(f.updates[entry.IssueID], *entry)
	return nil
}

func (f *fakeIssueStore) ListUpdates(ctx context.Context, issueID string) ([]models.IssueUpdate, error) {
	return f.updates[issueID], nil
}

func (f *fakeIssueStore) AppendResponse(ctx context.Context, resp *models.OfficialResponse) error {
	return nil
}

func (f *fakeIssueStore) ListResponses(ctx context.Context, issueID string) ([]models.OfficialResponse, error) {
	return nil, nil
}

func (f *fakeIssueStore) AppendComment(ctx context.Context, comment *models.Comment) error {
	return nil
}

func (f *fakeIssueStore) FindCommentByID(ctx context.Context, id string) (*models.Comment, error) {
	return nil, sql.ErrNoRows
}

func (f *fakeIssueStore) ListComments(ctx context.Context, issueID string) ([]models.Comment, error) {
	return nil, nil
}

func (f *fakeIssueStore) LikeComment(ctx context.Context, commentID, userID string) (bool, error) {
	return false, sql.ErrNoRows
}

func (f *fakeIssueStore) AppendProgressPhoto(ctx context.Context, photo *models.ProgressPhoto) error {
	return nil
}

func (f *fakeIssueStore) ListProgressPhotos(ctx context.Context, issueID string) ([]models.ProgressPhoto, error) {
	return nil, nil
}

func (f *fakeIssueStore) Nearby(ctx context.Context, longitude, latitude, radiusMeters float64, limit int) ([]models.Issue, error) {
	return nil, nil
}

type fakeUserStore struct {
	users map[string]*models.User
}

func (f *fakeUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := f.users[id]; ok {
		out := *user
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

// fakeAuthStore backs the auth service only as far as token validation
// needs; the login paths are never exercised here.
type fakeAuthStore struct{}

func (fakeAuthStore) FindByEmail(context.Context, string) (*models.User, error) {
	return nil, appErrors.ErrNotFound
}
func (fakeAuthStore) FindByID(context.Context, string) (*models.User, error) {
	return nil, appErrors.ErrNotFound
}
func (fakeAuthStore) Create(context.Context, *models.User) error               { return nil }
func (fakeAuthStore) UpdateLastLogin(context.Context, string, time.Time) error { return nil }
func (fakeAuthStore) UpdatePassword(context.Context, string, string, time.Time) error {
	return nil
}
func (fakeAuthStore) RevokeUserRefreshTokens(context.Context, string) error          { return nil }
func (fakeAuthStore) CreateRefreshToken(context.Context, *models.RefreshToken) error { return nil }
func (fakeAuthStore) FindRefreshToken(context.Context, string) (*models.RefreshToken, error) {
	return nil, appErrors.ErrNotFound
}
func (fakeAuthStore) RevokeRefreshToken(context.Context, string, time.Time) error { return nil }
func (fakeAuthStore) CreateAuditLog(context.Context, *models.AuditLog) error      { return nil }

// newIssueRouter mounts the issue routes the way the application router
// does, backed by in-memory stores and real services.
func newIssueRouter(t *testing.T) (*gin.Engine, *fakeIssueStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newFakeIssueStore()
	users := &fakeUserStore{users: map[string]*models.User{
		handlerUIDCitizen: {ID: handlerUIDCitizen, Role: models.RoleCitizen, City: "Ankara", Active: true},
		handlerUIDStaff:   {ID: handlerUIDStaff, Role: models.RoleMunicipalWorker, City: "Ankara", Active: true},
		handlerUIDWorker:  {ID: handlerUIDWorker, Role: models.RoleFieldWorker, City: "Ankara", Active: true},
	}}

	issueSvc := service.NewIssueService(store, users, nil, validator.New(), zap.NewNop(), service.IssueLimits{})
	authSvc := service.NewAuthService(fakeAuthStore{}, validator.New(), zap.NewNop(), service.AuthConfig{
		AccessTokenSecret:  handlerTestSecret,
		AccessTokenExpiry:  time.Minute,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "kentpulse-test",
	})
	issueHandler := NewIssueHandler(issueSvc, service.NewMetricsService())

	r := gin.New()
	issues := r.Group("/api/v1/issues")

	public := issues.Group("", middleware.OptionalJWT(authSvc))
	public.GET("", issueHandler.List)
	public.GET("/:id", issueHandler.Get)

	authed := issues.Group("", middleware.JWT(authSvc))
	authed.POST("", issueHandler.Create)
	authed.POST("/:id/upvote", issueHandler.Upvote)

	staff := authed.Group("", middleware.RequireStaff())
	staff.POST("/:id/status", issueHandler.ChangeStatus)

	triage := authed.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleMunicipalWorker))
	triage.POST("/:id/assign", issueHandler.Assign)

	return r, store
}

func bearerToken(t *testing.T, userID string, role models.UserRole, city string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{
		UserID: userID,
		Role:   role,
		City:   city,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte(handlerTestSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func doJSON(t *testing.T, r *gin.Engine, method, path, auth string, payload interface{}) (*httptest.ResponseRecorder, response.Envelope) {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, req)

	var envelope response.Envelope
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	}
	return recorder, envelope
}

func issueFromEnvelope(t *testing.T, envelope response.Envelope) models.Issue {
	t.Helper()
	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var issue models.Issue
	require.NoError(t, json.Unmarshal(raw, &issue))
	return issue
}

func reportPayload() models.CreateIssueRequest {
	return models.CreateIssueRequest{
		Title:       "Collapsed drain cover",
		Description: "The drain cover on the corner caved in after the rain.",
		Category:    models.CategoryInfrastructure,
		Severity:    models.SeverityHigh,
		Address:     "İstiklal Cd. 45",
		District:    "Çankaya",
		City:        "Ankara",
		Longitude:   32.86,
		Latitude:    39.93,
	}
}

func TestCreateIssueEndpoint(t *testing.T) {
	r, store := newIssueRouter(t)
	citizen := bearerToken(t, handlerUIDCitizen, models.RoleCitizen, "Ankara")

	recorder, envelope := doJSON(t, r, http.MethodPost, "/api/v1/issues", citizen, reportPayload())
	require.Equal(t, http.StatusCreated, recorder.Code)

	issue := issueFromEnvelope(t, envelope)
	assert.NotEmpty(t, issue.ID)
	assert.Equal(t, models.StatusNew, issue.Status)
	assert.Equal(t, handlerUIDCitizen, issue.ReporterID)
	require.Contains(t, store.issues, issue.ID)
}

func TestCreateIssueEndpointRequiresToken(t *testing.T) {
	r, _ := newIssueRouter(t)

	recorder, envelope := doJSON(t, r, http.MethodPost, "/api/v1/issues", "", reportPayload())
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, envelope.Error.Code)
}

func TestStatusEndpointStaffOnly(t *testing.T) {
	r, _ := newIssueRouter(t)
	citizen := bearerToken(t, handlerUIDCitizen, models.RoleCitizen, "Ankara")
	staff := bearerToken(t, handlerUIDStaff, models.RoleMunicipalWorker, "Ankara")

	recorder, envelope := doJSON(t, r, http.MethodPost, "/api/v1/issues", citizen, reportPayload())
	require.Equal(t, http.StatusCreated, recorder.Code)
	created := issueFromEnvelope(t, envelope)

	statusBody := models.ChangeStatusRequest{Status: models.StatusUnderReview, Version: created.Version}

	recorder, envelope = doJSON(t, r, http.MethodPost, "/api/v1/issues/"+created.ID+"/status", citizen, statusBody)
	require.Equal(t, http.StatusForbidden, recorder.Code)
	require.NotNil(t, envelope.Error)

	recorder, envelope = doJSON(t, r, http.MethodPost, "/api/v1/issues/"+created.ID+"/status", staff, statusBody)
	require.Equal(t, http.StatusOK, recorder.Code)
	updated := issueFromEnvelope(t, envelope)
	assert.Equal(t, models.StatusUnderReview, updated.Status)

	// The detail read reflects the transition and its history entry.
	recorder, envelope = doJSON(t, r, http.MethodGet, "/api/v1/issues/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var detail models.IssueDetail
	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &detail))
	assert.Equal(t, models.StatusUnderReview, detail.Status)
	require.Len(t, detail.Updates, 1)
}

func TestAssignEndpointAdvancesNewIssue(t *testing.T) {
	r, _ := newIssueRouter(t)
	citizen := bearerToken(t, handlerUIDCitizen, models.RoleCitizen, "Ankara")
	staff := bearerToken(t, handlerUIDStaff, models.RoleMunicipalWorker, "Ankara")

	recorder, envelope := doJSON(t, r, http.MethodPost, "/api/v1/issues", citizen, reportPayload())
	require.Equal(t, http.StatusCreated, recorder.Code)
	created := issueFromEnvelope(t, envelope)

	assignBody := models.AssignIssueRequest{WorkerID: handlerUIDWorker, Version: created.Version}
	recorder, envelope = doJSON(t, r, http.MethodPost, "/api/v1/issues/"+created.ID+"/assign", staff, assignBody)
	require.Equal(t, http.StatusOK, recorder.Code)

	assigned := issueFromEnvelope(t, envelope)
	require.NotNil(t, assigned.AssignedWorkerID)
	assert.Equal(t, handlerUIDWorker, *assigned.AssignedWorkerID)
	assert.Equal(t, models.StatusUnderReview, assigned.Status)
}
