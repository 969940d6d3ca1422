package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kentpulse/kentpulse-api/internal/models"
)

// ErrVersionMismatch signals a version-checked write lost a race with a
// concurrent update.
var ErrVersionMismatch = errors.New("issue version mismatch")

const issueColumns = `id, title, description, category, severity, status, address, district, city, longitude, latitude, images, upvotes, reporter_id, assigned_worker_id, version, created_at, updated_at`

// IssueRepository provides database access for issues and their
// append-only sub-collections.
type IssueRepository struct {
	db *sqlx.DB
}

// NewIssueRepository creates a new instance of IssueRepository.
func NewIssueRepository(db *sqlx.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

// Create inserts a new issue row.
func (r *IssueRepository) Create(ctx context.Context, issue *models.Issue) error {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	issue.UpdatedAt = now
	if issue.Version == 0 {
		issue.Version = 1
	}

	const query = `INSERT INTO issues (id, title, description, category, severity, status, address, district, city, longitude, latitude, images, upvotes, reporter_id, assigned_worker_id, version, created_at, updated_at)
VALUES (:id, :title, :description, :category, :severity, :status, :address, :district, :city, :longitude, :latitude, :images, :upvotes, :reporter_id, :assigned_worker_id, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, issue); err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

// FindByID returns an issue by identifier.
func (r *IssueRepository) FindByID(ctx context.Context, id string) (*models.Issue, error) {
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE id = $1 LIMIT 1`, issueColumns)
	var issue models.Issue
	if err := r.db.GetContext(ctx, &issue, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find issue by id: %w", err)
	}
	return &issue, nil
}

// List returns issues matching the filter with total count. Scope fields
// (city, assigned worker, reporter) and caller filters are all
// conjunctive.
func (r *IssueRepository) List(ctx context.Context, filter models.IssueFilter) ([]models.Issue, int, error) {
	baseQuery := `FROM issues WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.City != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(city) = LOWER($%d)", len(args)+1))
		args = append(args, filter.City)
	}
	if filter.AssignedWorkerID != "" {
		conditions = append(conditions, fmt.Sprintf("assigned_worker_id = $%d", len(args)+1))
		args = append(args, filter.AssignedWorkerID)
	}
	if filter.ReporterID != "" {
		conditions = append(conditions, fmt.Sprintf("reporter_id = $%d", len(args)+1))
		args = append(args, filter.ReporterID)
	}
	if filter.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, *filter.Category)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Severity != nil {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", len(args)+1))
		args = append(args, *filter.Severity)
	}
	if filter.District != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(district) = LOWER($%d)", len(args)+1))
		args = append(args, filter.District)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", issueColumns, baseQuery, pageSize, offset)

	var issues []models.Issue
	if err := r.db.SelectContext(ctx, &issues, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}

	return issues, total, nil
}

// Update persists mutable issue fields with a version check. The row is
// written only when the stored version equals the version the caller
// read; otherwise ErrVersionMismatch is returned and nothing changes.
// Reporter, coordinates and creation time are never written.
func (r *IssueRepository) Update(ctx context.Context, issue *models.Issue) error {
	issue.UpdatedAt = time.Now().UTC()
	const query = `UPDATE issues SET title = :title, description = :description, category = :category, severity = :severity, status = :status, address = :address, district = :district, images = :images, assigned_worker_id = :assigned_worker_id, version = version + 1, updated_at = :updated_at
WHERE id = :id AND version = :version`
	res, err := r.db.NamedExecContext(ctx, query, issue)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update issue rows: %w", err)
	}
	if rows == 0 {
		return ErrVersionMismatch
	}
	issue.Version++
	return nil
}

// Delete removes the issue row. Sub-collection rows are removed by
// ON DELETE CASCADE constraints.
func (r *IssueRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM issues WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IncrementUpvotes bumps the counter and returns the new total.
func (r *IssueRepository) IncrementUpvotes(ctx context.Context, id string) (int, error) {
	const query = `UPDATE issues SET upvotes = upvotes + 1, updated_at = $2 WHERE id = $1 RETURNING upvotes`
	var upvotes int
	if err := r.db.GetContext(ctx, &upvotes, query, id, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return 0, err
		}
		return 0, fmt.Errorf("increment upvotes: %w", err)
	}
	return upvotes, nil
}

// AppendUpdate stores one status history entry. History rows are never
// updated or deleted.
func (r *IssueRepository) AppendUpdate(ctx context.Context, entry *models.IssueUpdate) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO issue_updates (id, issue_id, status, note, actor_id, created_at)
VALUES (:id, :issue_id, :status, :note, :actor_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append issue update: %w", err)
	}
	return nil
}

// ListUpdates returns the status history oldest first.
func (r *IssueRepository) ListUpdates(ctx context.Context, issueID string) ([]models.IssueUpdate, error) {
	const query = `SELECT id, issue_id, status, note, actor_id, created_at FROM issue_updates WHERE issue_id = $1 ORDER BY created_at ASC`
	var updates []models.IssueUpdate
	if err := r.db.SelectContext(ctx, &updates, query, issueID); err != nil {
		return nil, fmt.Errorf("list issue updates: %w", err)
	}
	return updates, nil
}

// AppendResponse stores one official response entry.
func (r *IssueRepository) AppendResponse(ctx context.Context, response *models.OfficialResponse) error {
	if response.ID == "" {
		response.ID = uuid.NewString()
	}
	if response.CreatedAt.IsZero() {
		response.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO issue_responses (id, issue_id, responder_id, text, created_at)
VALUES (:id, :issue_id, :responder_id, :text, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, response); err != nil {
		return fmt.Errorf("append official response: %w", err)
	}
	return nil
}

// ListResponses returns official responses newest first.
func (r *IssueRepository) ListResponses(ctx context.Context, issueID string) ([]models.OfficialResponse, error) {
	const query = `SELECT id, issue_id, responder_id, text, created_at FROM issue_responses WHERE issue_id = $1 ORDER BY created_at DESC`
	var responses []models.OfficialResponse
	if err := r.db.SelectContext(ctx, &responses, query, issueID); err != nil {
		return nil, fmt.Errorf("list official responses: %w", err)
	}
	return responses, nil
}

// AppendComment stores a comment or reply.
func (r *IssueRepository) AppendComment(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO issue_comments (id, issue_id, parent_id, author_id, text, created_at)
VALUES (:id, :issue_id, :parent_id, :author_id, :text, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("append comment: %w", err)
	}
	return nil
}

// FindCommentByID returns a single comment.
func (r *IssueRepository) FindCommentByID(ctx context.Context, id string) (*models.Comment, error) {
	const query = `SELECT c.id, c.issue_id, c.parent_id, c.author_id, c.text,
(SELECT COUNT(*) FROM comment_likes cl WHERE cl.comment_id = c.id) AS likes,
c.created_at FROM issue_comments c WHERE c.id = $1 LIMIT 1`
	var comment models.Comment
	if err := r.db.GetContext(ctx, &comment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find comment: %w", err)
	}
	return &comment, nil
}

// ListComments returns all comments for an issue oldest first, with
// like counts.
func (r *IssueRepository) ListComments(ctx context.Context, issueID string) ([]models.Comment, error) {
	const query = `SELECT c.id, c.issue_id, c.parent_id, c.author_id, c.text,
(SELECT COUNT(*) FROM comment_likes cl WHERE cl.comment_id = c.id) AS likes,
c.created_at FROM issue_comments c WHERE c.issue_id = $1 ORDER BY c.created_at ASC`
	var comments []models.Comment
	if err := r.db.SelectContext(ctx, &comments, query, issueID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// LikeComment records one like per user per comment. Returns false when
// the like already existed.
func (r *IssueRepository) LikeComment(ctx context.Context, commentID, userID string) (bool, error) {
	const query = `INSERT INTO comment_likes (comment_id, user_id, created_at) VALUES ($1, $2, $3) ON CONFLICT (comment_id, user_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, commentID, userID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("like comment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("like comment rows: %w", err)
	}
	return rows > 0, nil
}

// AppendProgressPhoto stores a field-work photo reference.
func (r *IssueRepository) AppendProgressPhoto(ctx context.Context, photo *models.ProgressPhoto) error {
	if photo.ID == "" {
		photo.ID = uuid.NewString()
	}
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO issue_progress_photos (id, issue_id, uploader_id, url, created_at)
VALUES (:id, :issue_id, :uploader_id, :url, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, photo); err != nil {
		return fmt.Errorf("append progress photo: %w", err)
	}
	return nil
}

// ListProgressPhotos returns photos oldest first.
func (r *IssueRepository) ListProgressPhotos(ctx context.Context, issueID string) ([]models.ProgressPhoto, error) {
	const query = `SELECT id, issue_id, uploader_id, url, created_at FROM issue_progress_photos WHERE issue_id = $1 ORDER BY created_at ASC`
	var photos []models.ProgressPhoto
	if err := r.db.SelectContext(ctx, &photos, query, issueID); err != nil {
		return nil, fmt.Errorf("list progress photos: %w", err)
	}
	return photos, nil
}

// Nearby returns issues within radiusMeters of the given point using a
// haversine distance on the stored coordinates.
func (r *IssueRepository) Nearby(ctx context.Context, longitude, latitude, radiusMeters float64, limit int) ([]models.Issue, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM issues
WHERE 6371000 * acos(LEAST(1.0, cos(radians($1)) * cos(radians(latitude)) * cos(radians(longitude) - radians($2)) + sin(radians($1)) * sin(radians(latitude)))) <= $3
ORDER BY created_at DESC LIMIT %d`, issueColumns, limit)
	var issues []models.Issue
	if err := r.db.SelectContext(ctx, &issues, query, latitude, longitude, radiusMeters); err != nil {
		return nil, fmt.Errorf("nearby issues: %w", err)
	}
	return issues, nil
}

// Total counts issues, optionally scoped to one city.
func (r *IssueRepository) Total(ctx context.Context, city string) (int, error) {
	query := `SELECT COUNT(*) FROM issues`
	args := []interface{}{}
	if city != "" {
		query += ` WHERE LOWER(city) = LOWER($1)`
		args = append(args, city)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count issues: %w", err)
	}
	return total, nil
}

// CountByStatus groups issue totals per status, optionally city-scoped.
func (r *IssueRepository) CountByStatus(ctx context.Context, city string) ([]models.StatusCount, error) {
	query := `SELECT status, COUNT(*) AS count FROM issues`
	args := []interface{}{}
	if city != "" {
		query += ` WHERE LOWER(city) = LOWER($1)`
		args = append(args, city)
	}
	query += ` GROUP BY status ORDER BY status`
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	return counts, nil
}

// CountByCategory groups issue totals per category, optionally city-scoped.
func (r *IssueRepository) CountByCategory(ctx context.Context, city string) ([]models.CategoryCount, error) {
	query := `SELECT category, COUNT(*) AS count FROM issues`
	args := []interface{}{}
	if city != "" {
		query += ` WHERE LOWER(city) = LOWER($1)`
		args = append(args, city)
	}
	query += ` GROUP BY category ORDER BY count DESC`
	var counts []models.CategoryCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	return counts, nil
}

// CountByDistrict groups issue totals per district, optionally city-scoped.
func (r *IssueRepository) CountByDistrict(ctx context.Context, city string) ([]models.LabelCount, error) {
	query := `SELECT district AS label, COUNT(*) AS count FROM issues`
	args := []interface{}{}
	if city != "" {
		query += ` WHERE LOWER(city) = LOWER($1)`
		args = append(args, city)
	}
	query += ` GROUP BY district ORDER BY count DESC`
	var counts []models.LabelCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count by district: %w", err)
	}
	return counts, nil
}

// CountByCity groups issue totals per city.
func (r *IssueRepository) CountByCity(ctx context.Context) ([]models.LabelCount, error) {
	const query = `SELECT city AS label, COUNT(*) AS count FROM issues GROUP BY city ORDER BY count DESC`
	var counts []models.LabelCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count by city: %w", err)
	}
	return counts, nil
}

// CountByMonth groups issue totals per creation month, optionally
// city-scoped.
func (r *IssueRepository) CountByMonth(ctx context.Context, city string) ([]models.LabelCount, error) {
	query := `SELECT to_char(created_at, 'YYYY-MM') AS label, COUNT(*) AS count FROM issues`
	args := []interface{}{}
	if city != "" {
		query += ` WHERE LOWER(city) = LOWER($1)`
		args = append(args, city)
	}
	query += ` GROUP BY label ORDER BY label ASC`
	var counts []models.LabelCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count by month: %w", err)
	}
	return counts, nil
}
