package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kentpulse/kentpulse-api/internal/models"
	"github.com/kentpulse/kentpulse-api/internal/policy"
	appErrors "github.com/kentpulse/kentpulse-api/pkg/errors"
	"github.com/kentpulse/kentpulse-api/pkg/export"
	"github.com/kentpulse/kentpulse-api/pkg/storage"
)

type summaryBuilder interface {
	SummaryForCity(ctx context.Context, city string) (*models.DashboardSummary, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type xlsxRenderer interface {
	Render(data export.Dataset, sheet string) ([]byte, error)
}

// ExportService builds report datasets from dashboard aggregates and
// persists rendered files behind signed download URLs.
type ExportService struct {
	summaries summaryBuilder
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	xlsx      xlsxRenderer
	signer    *storage.SignedURLSigner
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(summaries summaryBuilder, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		summaries: summaries,
		storage:   store,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		xlsx:      export.NewXLSXExporter(),
		signer:    signer,
		logger:    logger,
		cfg:       cfg,
	}
}

// Generate builds the dataset for a job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}

	summary, err := s.summaries.SummaryForCity(ctx, job.Params.City)
	if err != nil {
		return nil, err
	}

	dataset, title, err := buildDataset(job.Type, summary)
	if err != nil {
		return nil, err
	}

	payload, err := s.render(dataset, title, job.Params.Format)
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/reports/download/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// RenderForActor enforces staff-only access and municipal city pinning
// before rendering a synchronous export.
func (s *ExportService) RenderForActor(ctx context.Context, actor policy.Actor, reportType models.ReportType, format models.ReportFormat, city string) (string, []byte, error) {
	if !actor.Authenticated || (actor.Role != models.RoleAdmin && actor.Role != models.RoleMunicipalWorker) {
		return "", nil, appErrors.Clone(appErrors.ErrForbidden, "exports are limited to municipal staff")
	}
	if reportType == "" {
		reportType = models.ReportTypeSummary
	}
	if !isValidReportType(reportType) {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report type")
	}
	if !models.ValidReportFormat(format) {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}
	if actor.Role == models.RoleMunicipalWorker {
		city = actor.City
	}
	return s.RenderSync(ctx, reportType, format, city)
}

// RenderSync renders an export in-process without persisting a job or
// minting a download token. Backs the synchronous dashboard export.
func (s *ExportService) RenderSync(ctx context.Context, reportType models.ReportType, format models.ReportFormat, city string) (string, []byte, error) {
	summary, err := s.summaries.SummaryForCity(ctx, city)
	if err != nil {
		return "", nil, err
	}

	dataset, title, err := buildDataset(reportType, summary)
	if err != nil {
		return "", nil, err
	}

	payload, err := s.render(dataset, title, format)
	if err != nil {
		return "", nil, err
	}

	timestamp := time.Now().UTC().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(reportType)), sanitizeFilename(city), timestamp, format)
	return filename, payload, nil
}

func (s *ExportService) render(dataset export.Dataset, title string, format models.ReportFormat) ([]byte, error) {
	switch format {
	case models.ReportFormatCSV:
		return s.csv.Render(dataset)
	case models.ReportFormatPDF:
		return s.pdf.Render(dataset, title)
	case models.ReportFormatXLSX:
		return s.xlsx.Render(dataset, title)
	default:
		return nil, fmt.Errorf("unsupported format %s", format)
	}
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	cityPart := sanitizeFilename(job.Params.City)
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), cityPart, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "all"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(strings.ToLower(raw))
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

// statusDisplay maps canonical status values to the Turkish labels used
// on exported documents. The canonical form never leaves the API.
var statusDisplay = map[models.IssueStatus]string{
	models.StatusNew:         "Yeni",
	models.StatusUnderReview: "İnceleniyor",
	models.StatusResolved:    "Çözüldü",
	models.StatusRejected:    "Reddedildi",
}

func displayStatus(s models.IssueStatus) string {
	if label, ok := statusDisplay[s]; ok {
		return label
	}
	return string(s)
}

func buildDataset(reportType models.ReportType, summary *models.DashboardSummary) (export.Dataset, string, error) {
	scope := summary.City
	if scope == "" {
		scope = "All Cities"
	}

	switch reportType {
	case models.ReportTypeSummary:
		rows := make([]map[string]string, 0, len(summary.ByStatus)+len(summary.ByCategory))
		for _, sc := range summary.ByStatus {
			rows = append(rows, map[string]string{
				"Dimension": "Status",
				"Value":     displayStatus(sc.Status),
				"Count":     fmt.Sprintf("%d", sc.Count),
			})
		}
		for _, cc := range summary.ByCategory {
			rows = append(rows, map[string]string{
				"Dimension": "Category",
				"Value":     string(cc.Category),
				"Count":     fmt.Sprintf("%d", cc.Count),
			})
		}
		dataset := export.Dataset{
			Headers: []string{"Dimension", "Value", "Count"},
			Rows:    rows,
		}
		return dataset, fmt.Sprintf("Issue Summary %s", scope), nil

	case models.ReportTypeByDistrict:
		rows := make([]map[string]string, 0, len(summary.ByDistrict))
		for _, dc := range summary.ByDistrict {
			rows = append(rows, map[string]string{
				"District": dc.Label,
				"Count":    fmt.Sprintf("%d", dc.Count),
			})
		}
		dataset := export.Dataset{
			Headers: []string{"District", "Count"},
			Rows:    rows,
		}
		return dataset, fmt.Sprintf("Issues by District %s", scope), nil

	case models.ReportTypeByMonth:
		rows := make([]map[string]string, 0, len(summary.ByMonth))
		for _, mc := range summary.ByMonth {
			rows = append(rows, map[string]string{
				"Month": mc.Label,
				"Count": fmt.Sprintf("%d", mc.Count),
			})
		}
		dataset := export.Dataset{
			Headers: []string{"Month", "Count"},
			Rows:    rows,
		}
		return dataset, fmt.Sprintf("Issues by Month %s", scope), nil
	}

	return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", reportType)
}
