package models

// CreateIssueRequest is the citizen submission payload. Status, votes
// and assignment are server-controlled and deliberately absent.
type CreateIssueRequest struct {
	Title       string        `json:"title" validate:"required,min=3,max=200"`
	Description string        `json:"description" validate:"required,min=10"`
	Category    IssueCategory `json:"category" validate:"required"`
	Severity    IssueSeverity `json:"severity" validate:"required"`
	Address     string        `json:"address" validate:"required"`
	District    string        `json:"district" validate:"required"`
	City        string        `json:"city" validate:"required"`
	Longitude   float64       `json:"longitude" validate:"required,gte=-180,lte=180"`
	Latitude    float64       `json:"latitude" validate:"required,gte=-90,lte=90"`
	Images      []string      `json:"images" validate:"max=5,dive,url"`
}

// UpdateIssueRequest carries a partial edit. Only fields present are
// applied, and each is checked against the caller's permitted set.
// Version is the version the client read; a stale version is rejected.
type UpdateIssueRequest struct {
	Title       *string        `json:"title,omitempty" validate:"omitempty,min=3,max=200"`
	Description *string        `json:"description,omitempty" validate:"omitempty,min=10"`
	Category    *IssueCategory `json:"category,omitempty"`
	Severity    *IssueSeverity `json:"severity,omitempty"`
	Address     *string        `json:"address,omitempty"`
	District    *string        `json:"district,omitempty"`
	Images      *[]string      `json:"images,omitempty" validate:"omitempty,max=5,dive,url"`
	Version     int            `json:"version" validate:"required,min=1"`
}

// ChangeStatusRequest moves an issue along its lifecycle.
type ChangeStatusRequest struct {
	Status  IssueStatus `json:"status" validate:"required"`
	Note    string      `json:"note" validate:"max=1000"`
	Version int         `json:"version" validate:"required,min=1"`
}

// AssignIssueRequest sets the worker an issue is handed to.
type AssignIssueRequest struct {
	WorkerID string `json:"worker_id" validate:"required,uuid4"`
	Version  int    `json:"version" validate:"required,min=1"`
}

// CommentRequest adds a comment or, when ParentID is set, a reply.
type CommentRequest struct {
	Text     string  `json:"text" validate:"required,min=1,max=2000"`
	ParentID *string `json:"parent_id,omitempty" validate:"omitempty,uuid4"`
}

// RespondRequest appends an official municipal response.
type RespondRequest struct {
	Text string `json:"text" validate:"required,min=1,max=4000"`
}

// ProgressPhotoRequest attaches a field-work photo.
type ProgressPhotoRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// NearbyRequest queries issues around a point.
type NearbyRequest struct {
	Longitude    float64 `form:"longitude" validate:"gte=-180,lte=180"`
	Latitude     float64 `form:"latitude" validate:"gte=-90,lte=90"`
	RadiusMeters float64 `form:"radius" validate:"gt=0,lte=50000"`
	Limit        int     `form:"limit" validate:"gte=0,lte=100"`
}
