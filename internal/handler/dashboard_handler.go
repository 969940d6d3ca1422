package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kentpulse/kentpulse-api/internal/models"
	"github.com/kentpulse/kentpulse-api/internal/service"
	appErrors "github.com/kentpulse/kentpulse-api/pkg/errors"
	"github.com/kentpulse/kentpulse-api/pkg/response"
)

// DashboardHandler serves staff dashboard aggregates.
type DashboardHandler struct {
	service  *service.DashboardService
	exporter *service.ExportService
}

// NewDashboardHandler creates a new handler. The exporter may be nil
// when synchronous exports are disabled.
func NewDashboardHandler(svc *service.DashboardService, exporter *service.ExportService) *DashboardHandler {
	return &DashboardHandler{service: svc, exporter: exporter}
}

// Summary godoc
// @Summary Dashboard summary
// @Description Aggregated issue counts scoped to the caller's visibility
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /dashboard/summary [get]
func (h *DashboardHandler) Summary(c *gin.Context) {
	summary, cached, err := h.service.Summary(c.Request.Context(), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil, map[string]interface{}{"cached": cached})
}

// Export godoc
// @Summary Export the dashboard synchronously
// @Description Renders the scoped dashboard as CSV, PDF or XLSX in one request
// @Tags Dashboard
// @Produce octet-stream
// @Param format query string true "Export format" Enums(csv, pdf, xlsx)
// @Param type query string false "Report type" Enums(summary, by_district, by_month)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /dashboard/export [get]
func (h *DashboardHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "exports are disabled"))
		return
	}

	reportType := models.ReportType(c.Query("type"))
	format := models.ReportFormat(c.DefaultQuery("format", string(models.ReportFormatCSV)))

	filename, payload, err := h.exporter.RenderForActor(c.Request.Context(), actorFromContext(c), reportType, format, c.Query("city"))
	if err != nil {
		response.Error(c, err)
		return
	}

	contentType := reportContentTypes[format]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, payload)
}
