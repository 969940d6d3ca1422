package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kentpulse/kentpulse-api/internal/models"
	"github.com/kentpulse/kentpulse-api/internal/repository"
	appErrors "github.com/kentpulse/kentpulse-api/pkg/errors"
	"github.com/kentpulse/kentpulse-api/pkg/jobs"
	"github.com/kentpulse/kentpulse-api/pkg/storage"
)

type mockReportStore struct {
	jobs map[string]*models.ReportJob
}

func newMockReportStore() *mockReportStore {
	return &mockReportStore{jobs: make(map[string]*models.ReportJob)}
}

func (m *mockReportStore) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = time.Now().UTC()
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *mockReportStore) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	if job, ok := m.jobs[id]; ok {
		out := *job
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockReportStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range m.jobs {
		if job.CreatedBy == userID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *mockReportStore) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *mockReportStore) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range m.jobs {
		if job.Status == models.ReportStatusQueued {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *mockReportStore) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	return nil, nil
}

type mockDispatcher struct {
	enqueued []jobs.Job
	err      error
}

func (m *mockDispatcher) Enqueue(job jobs.Job) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

type stubSummaries struct{}

func (stubSummaries) SummaryForCity(ctx context.Context, city string) (*models.DashboardSummary, error) {
	return &models.DashboardSummary{
		Total:      3,
		ByStatus:   []models.StatusCount{{Status: models.StatusNew, Count: 2}, {Status: models.StatusResolved, Count: 1}},
		ByCategory: []models.CategoryCount{{Category: models.CategoryInfrastructure, Count: 3}},
		ByDistrict: []models.LabelCount{{Label: "Çankaya", Count: 3}},
		ByMonth:    []models.LabelCount{{Label: "2026-08", Count: 3}},
		City:       city,
		Generated:  time.Now().UTC(),
	}, nil
}

type failingExporter struct{}

func (failingExporter) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	return nil, errors.New("render blew up")
}

func newExportFixture(t *testing.T) *ExportService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	return NewExportService(stubSummaries{}, store, signer, ExportConfig{APIPrefix: "/api/v1"}, zap.NewNop())
}

func newReportFixture(t *testing.T) (*ReportService, *mockReportStore, *mockDispatcher, *ExportService) {
	t.Helper()
	repo := newMockReportStore()
	queue := &mockDispatcher{}
	exporter := newExportFixture(t)
	svc := NewReportService(repo, queue, exporter, zap.NewNop(), ReportServiceConfig{ResultTTL: time.Hour})
	return svc, repo, queue, exporter
}

func TestCreateJobStaffOnly(t *testing.T) {
	svc, _, _, _ := newReportFixture(t)
	req := models.ReportRequest{Type: models.ReportTypeSummary, Format: models.ReportFormatCSV}

	_, err := svc.CreateJob(context.Background(), citizenActor, req)
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	_, err = svc.CreateJob(context.Background(), fieldActor, req)
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	_, err = svc.CreateJob(context.Background(), adminActor, req)
	require.NoError(t, err)
}

func TestCreateJobValidation(t *testing.T) {
	svc, _, _, _ := newReportFixture(t)

	_, err := svc.CreateJob(context.Background(), adminActor, models.ReportRequest{Type: "everything", Format: models.ReportFormatCSV})
	assertAppErrorCode(t, err, appErrors.ErrValidation)

	_, err = svc.CreateJob(context.Background(), adminActor, models.ReportRequest{Type: models.ReportTypeSummary, Format: "docx"})
	assertAppErrorCode(t, err, appErrors.ErrValidation)
}

func TestCreateJobPinsMunicipalWorkerCity(t *testing.T) {
	svc, repo, queue, _ := newReportFixture(t)

	// A worker cannot widen the scope by naming another city.
	resp, err := svc.CreateJob(context.Background(), municipalActor, models.ReportRequest{
		Type:   models.ReportTypeSummary,
		Format: models.ReportFormatCSV,
		City:   "Izmir",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)

	job := repo.jobs[resp.ID]
	require.NotNil(t, job)
	assert.Equal(t, "Ankara", job.Params.City)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, resp.ID, queue.enqueued[0].ID)
}

func TestCreateJobEnqueueFailureMarksFailed(t *testing.T) {
	svc, repo, queue, _ := newReportFixture(t)
	queue.err = errors.New("queue full")

	_, err := svc.CreateJob(context.Background(), adminActor, models.ReportRequest{Type: models.ReportTypeSummary, Format: models.ReportFormatCSV})
	require.Error(t, err)

	require.Len(t, repo.jobs, 1)
	for _, job := range repo.jobs {
		assert.Equal(t, models.ReportStatusFailed, job.Status)
	}
}

func TestGetStatusOwnership(t *testing.T) {
	svc, _, _, _ := newReportFixture(t)

	resp, err := svc.CreateJob(context.Background(), municipalActor, models.ReportRequest{Type: models.ReportTypeSummary, Format: models.ReportFormatCSV})
	require.NoError(t, err)

	_, err = svc.GetStatus(context.Background(), otherCityActor, resp.ID)
	assertAppErrorCode(t, err, appErrors.ErrForbidden)

	status, err := svc.GetStatus(context.Background(), municipalActor, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, status.Status)

	// Admins can inspect any job.
	_, err = svc.GetStatus(context.Background(), adminActor, resp.ID)
	require.NoError(t, err)

	_, err = svc.GetStatus(context.Background(), adminActor, uuid.NewString())
	assertAppErrorCode(t, err, appErrors.ErrNotFound)
}

func TestReportWorkerFinishesJob(t *testing.T) {
	svc, repo, _, exporter := newReportFixture(t)
	worker := NewReportWorker(repo, exporter, NewMetricsService(), 3, zap.NewNop())

	resp, err := svc.CreateJob(context.Background(), adminActor, models.ReportRequest{Type: models.ReportTypeSummary, Format: models.ReportFormatCSV})
	require.NoError(t, err)

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: resp.ID, Attempt: 1}))

	job := repo.jobs[resp.ID]
	assert.Equal(t, models.ReportStatusFinished, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.ResultURL)
	assert.Contains(t, *job.ResultURL, "/api/v1/reports/download/")
	require.NotNil(t, job.FinishedAt)

	// The signed URL resolves to the stored file.
	parts := strings.Split(*job.ResultURL, "/")
	token := parts[len(parts)-1]
	download, err := svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ReportFormatCSV, download.Format)
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))
}

func TestReportWorkerRetriesBeforeFailing(t *testing.T) {
	_, repo, _, _ := newReportFixture(t)
	worker := NewReportWorker(repo, failingExporter{}, NewMetricsService(), 3, zap.NewNop())

	job := &models.ReportJob{
		Type:      models.ReportTypeSummary,
		Params:    models.ReportJobParams{Format: models.ReportFormatCSV},
		Status:    models.ReportStatusQueued,
		CreatedBy: uidAdmin,
	}
	require.NoError(t, repo.Create(context.Background(), job))

	// Early attempts go back to the queue for the retry loop.
	require.Error(t, worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 1}))
	assert.Equal(t, models.ReportStatusQueued, repo.jobs[job.ID].Status)

	// The final attempt marks the job failed for good.
	require.Error(t, worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 3}))
	assert.Equal(t, models.ReportStatusFailed, repo.jobs[job.ID].Status)
	require.NotNil(t, repo.jobs[job.ID].ErrorMessage)
	assert.Equal(t, "render blew up", *repo.jobs[job.ID].ErrorMessage)
}

func TestResolveDownloadRejectsBadToken(t *testing.T) {
	svc, _, _, _ := newReportFixture(t)

	_, err := svc.ResolveDownload(context.Background(), "not-a-real-token")
	assertAppErrorCode(t, err, appErrors.ErrForbidden)
}

func TestRecoverPendingJobsRequeues(t *testing.T) {
	svc, repo, queue, _ := newReportFixture(t)

	job := &models.ReportJob{
		Type:      models.ReportTypeByMonth,
		Params:    models.ReportJobParams{Format: models.ReportFormatPDF},
		Status:    models.ReportStatusQueued,
		CreatedBy: uidAdmin,
	}
	require.NoError(t, repo.Create(context.Background(), job))

	svc.RecoverPendingJobs(context.Background())
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0].ID)
}
