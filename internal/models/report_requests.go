package models

// ReportRequest asks for an asynchronous dashboard export. City is only
// honoured for admins; other staff are pinned to their own city.
type ReportRequest struct {
	Type   ReportType   `json:"type" validate:"required"`
	Format ReportFormat `json:"format" validate:"required"`
	City   string       `json:"city,omitempty"`
}

// ReportJobResponse acknowledges an accepted job.
type ReportJobResponse struct {
	ID       string       `json:"id"`
	Status   ReportStatus `json:"status"`
	Progress int          `json:"progress"`
}

// ReportStatusResponse exposes job progress and, once finished, the
// signed download location.
type ReportStatusResponse struct {
	ID        string       `json:"id"`
	Status    ReportStatus `json:"status"`
	Progress  int          `json:"progress"`
	ResultURL *string      `json:"result_url,omitempty"`
	Error     *string      `json:"error,omitempty"`
}
