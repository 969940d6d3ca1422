package models

import (
	"time"

	"github.com/lib/pq"
)

// IssueCategory enumerates the complaint categories citizens can file.
type IssueCategory string

const (
	CategoryInfrastructure IssueCategory = "Infrastructure"
	CategoryRoadworks      IssueCategory = "Surface/Roadworks"
	CategoryEnvironment    IssueCategory = "Environment"
	CategoryTransportation IssueCategory = "Transportation"
	CategorySafety         IssueCategory = "Safety"
	CategorySanitation     IssueCategory = "Sanitation"
	CategoryOther          IssueCategory = "Other"
)

// ValidCategory reports whether the value is a known category.
func ValidCategory(c IssueCategory) bool {
	switch c {
	case CategoryInfrastructure, CategoryRoadworks, CategoryEnvironment,
		CategoryTransportation, CategorySafety, CategorySanitation, CategoryOther:
		return true
	}
	return false
}

// IssueSeverity grades how urgent a complaint is.
type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "LOW"
	SeverityMedium   IssueSeverity = "MEDIUM"
	SeverityHigh     IssueSeverity = "HIGH"
	SeverityCritical IssueSeverity = "CRITICAL"
)

// ValidSeverity reports whether the value is a known severity.
func ValidSeverity(s IssueSeverity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// IssueStatus is the canonical lifecycle state of an issue. Display
// strings for other locales live at the presentation boundary only.
type IssueStatus string

const (
	StatusNew         IssueStatus = "NEW"
	StatusUnderReview IssueStatus = "UNDER_REVIEW"
	StatusResolved    IssueStatus = "RESOLVED"
	StatusRejected    IssueStatus = "REJECTED"
)

// ValidStatus reports whether the value is a known status.
func ValidStatus(s IssueStatus) bool {
	switch s {
	case StatusNew, StatusUnderReview, StatusResolved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s IssueStatus) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}

// Issue represents a citizen-submitted municipal complaint.
type Issue struct {
	ID          string        `db:"id" json:"id"`
	Title       string        `db:"title" json:"title"`
	Description string        `db:"description" json:"description"`
	Category    IssueCategory `db:"category" json:"category"`
	Severity    IssueSeverity `db:"severity" json:"severity"`
	Status      IssueStatus   `db:"status" json:"status"`

	Address   string  `db:"address" json:"address"`
	District  string  `db:"district" json:"district"`
	City      string  `db:"city" json:"city"`
	Longitude float64 `db:"longitude" json:"longitude"`
	Latitude  float64 `db:"latitude" json:"latitude"`

	Images  pq.StringArray `db:"images" json:"images"`
	Upvotes int            `db:"upvotes" json:"upvotes"`

	ReporterID       string  `db:"reporter_id" json:"reporter_id"`
	AssignedWorkerID *string `db:"assigned_worker_id" json:"assigned_worker_id,omitempty"`

	// Version guards concurrent read-modify-write cycles; every update
	// carries the version it read and fails with a conflict on mismatch.
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AssignedTo reports whether the issue is assigned to the given user.
func (i *Issue) AssignedTo(userID string) bool {
	return i.AssignedWorkerID != nil && *i.AssignedWorkerID == userID
}

// IssueUpdate is one entry of the append-only status history log.
type IssueUpdate struct {
	ID        string      `db:"id" json:"id"`
	IssueID   string      `db:"issue_id" json:"issue_id"`
	Status    IssueStatus `db:"status" json:"status"`
	Note      string      `db:"note" json:"note"`
	ActorID   string      `db:"actor_id" json:"actor_id"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// OfficialResponse is one entry of the append-only official response log.
// The newest entry is the "current" response.
type OfficialResponse struct {
	ID          string    `db:"id" json:"id"`
	IssueID     string    `db:"issue_id" json:"issue_id"`
	ResponderID string    `db:"responder_id" json:"responder_id"`
	Text        string    `db:"text" json:"text"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Comment is a citizen or staff comment on an issue. Replies reference
// their parent comment; both are append-only.
type Comment struct {
	ID        string    `db:"id" json:"id"`
	IssueID   string    `db:"issue_id" json:"issue_id"`
	ParentID  *string   `db:"parent_id" json:"parent_id,omitempty"`
	AuthorID  string    `db:"author_id" json:"author_id"`
	Text      string    `db:"text" json:"text"`
	Likes     int       `db:"likes" json:"likes"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProgressPhoto documents field work, uploaded only by the assigned worker.
type ProgressPhoto struct {
	ID         string    `db:"id" json:"id"`
	IssueID    string    `db:"issue_id" json:"issue_id"`
	UploaderID string    `db:"uploader_id" json:"uploader_id"`
	URL        string    `db:"url" json:"url"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// IssueDetail aggregates an issue with its sub-collections.
type IssueDetail struct {
	Issue
	Updates        []IssueUpdate      `json:"updates"`
	Responses      []OfficialResponse `json:"responses"`
	ProgressPhotos []ProgressPhoto    `json:"progress_photos"`
}

// IssueFilter captures listing criteria. City, AssignedWorkerID and
// ReporterID carry the visibility scope; the remaining fields are
// caller-supplied conjunctive filters over the visible set.
type IssueFilter struct {
	Category *IssueCategory
	Status   *IssueStatus
	Severity *IssueSeverity
	District string

	City             string
	AssignedWorkerID string
	ReporterID       string

	Page     int
	PageSize int
}

// StatusCount is one row of a grouped dashboard aggregate.
type StatusCount struct {
	Status IssueStatus `db:"status" json:"status"`
	Count  int         `db:"count" json:"count"`
}

// CategoryCount groups issue totals per category.
type CategoryCount struct {
	Category IssueCategory `db:"category" json:"category"`
	Count    int           `db:"count" json:"count"`
}

// LabelCount groups issue totals by a free-text dimension (district, city
// or creation month).
type LabelCount struct {
	Label string `db:"label" json:"label"`
	Count int    `db:"count" json:"count"`
}

// DashboardSummary is the aggregate payload served to staff dashboards.
type DashboardSummary struct {
	Total      int             `json:"total"`
	ByStatus   []StatusCount   `json:"by_status"`
	ByCategory []CategoryCount `json:"by_category"`
	ByDistrict []LabelCount    `json:"by_district"`
	ByCity     []LabelCount    `json:"by_city"`
	ByMonth    []LabelCount    `json:"by_month"`
	City       string          `json:"city,omitempty"`
	Generated  time.Time       `json:"generated_at"`
}
