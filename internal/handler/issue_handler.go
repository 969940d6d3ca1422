package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kentpulse/kentpulse-api/internal/models"
	"github.com/kentpulse/kentpulse-api/internal/service"
	appErrors "github.com/kentpulse/kentpulse-api/pkg/errors"
	"github.com/kentpulse/kentpulse-api/pkg/response"
)

// IssueHandler wires HTTP endpoints to the issue service.
type IssueHandler struct {
	service *service.IssueService
	metrics *service.MetricsService
}

// NewIssueHandler creates a new handler.
func NewIssueHandler(svc *service.IssueService, metrics *service.MetricsService) *IssueHandler {
	return &IssueHandler{service: svc, metrics: metrics}
}

func issueFilterFromQuery(c *gin.Context) models.IssueFilter {
	filter := models.IssueFilter{
		District: c.Query("district"),
	}
	if v := c.Query("category"); v != "" {
		category := models.IssueCategory(v)
		filter.Category = &category
	}
	if v := c.Query("status"); v != "" {
		status := models.IssueStatus(v)
		filter.Status = &status
	}
	if v := c.Query("severity"); v != "" {
		severity := models.IssueSeverity(v)
		filter.Severity = &severity
	}
	if v, err := strconv.Atoi(c.Query("page")); err == nil {
		filter.Page = v
	}
	if v, err := strconv.Atoi(c.Query("page_size")); err == nil {
		filter.PageSize = v
	}
	return filter
}

func listPagination(filter models.IssueFilter, total int) *models.Pagination {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}

// Create godoc
// @Summary Report a new issue
// @Description File a municipal issue report for the authenticated citizen
// @Tags Issues
// @Accept json
// @Produce json
// @Param payload body models.CreateIssueRequest true "Issue payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /issues [post]
func (h *IssueHandler) Create(c *gin.Context) {
	var req models.CreateIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid issue payload"))
		return
	}

	issue, err := h.service.Create(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordIssueCreated(issue.Category)
	}

	response.Created(c, issue)
}

// List godoc
// @Summary List issues
// @Description List issues visible to the caller, with optional filters
// @Tags Issues
// @Produce json
// @Param category query string false "Category filter"
// @Param status query string false "Status filter"
// @Param severity query string false "Severity filter"
// @Param district query string false "District filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /issues [get]
func (h *IssueHandler) List(c *gin.Context) {
	filter := issueFilterFromQuery(c)

	issues, total, err := h.service.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, issues, listPagination(filter, total))
}

// ListMine godoc
// @Summary List own reports
// @Description List the authenticated user's issue reports
// @Tags Issues
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /issues/mine [get]
func (h *IssueHandler) ListMine(c *gin.Context) {
	filter := issueFilterFromQuery(c)

	issues, total, err := h.service.ListMine(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, issues, listPagination(filter, total))
}

// Nearby godoc
// @Summary Find issues near a point
// @Description List issues within a radius of a coordinate
// @Tags Issues
// @Produce json
// @Param longitude query number true "Longitude"
// @Param latitude query number true "Latitude"
// @Param radius query number false "Radius in meters (default 1000, max 50000)"
// @Param limit query int false "Result limit"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /issues/nearby [get]
func (h *IssueHandler) Nearby(c *gin.Context) {
	var req models.NearbyRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid nearby query"))
		return
	}

	issues, err := h.service.Nearby(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, issues, nil)
}

// Get godoc
// @Summary Get issue details
// @Description Issue with status history, official responses and photos
// @Tags Issues
// @Produce json
// @Param id path string true "Issue ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /issues/{id} [get]
func (h *IssueHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, detail, nil)
}

// Update godoc
// @Summary Edit an issue
// @Description Partial edit checked against the caller's permitted fields
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body models.UpdateIssueRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /issues/{id} [patch]
func (h *IssueHandler) Update(c *gin.Context) {
	var req models.UpdateIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid update payload"))
		return
	}

	issue, err := h.service.Update(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, issue, nil)
}

// Delete godoc
// @Summary Delete an issue
// @Description Only the reporter or an administrator may delete
// @Tags Issues
// @Param id path string true "Issue ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /issues/{id} [delete]
func (h *IssueHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), actorFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ChangeStatus godoc
// @Summary Change issue status
// @Description Move an issue along its lifecycle
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body models.ChangeStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /issues/{id}/status [post]
func (h *IssueHandler) ChangeStatus(c *gin.Context) {
	var req models.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}

	issue, err := h.service.ChangeStatus(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, issue, nil)
}

// Assign godoc
// @Summary Assign an issue to a worker
// @Description Hand the issue to a field worker; assigning a NEW issue starts review
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body models.AssignIssueRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /issues/{id}/assign [post]
func (h *IssueHandler) Assign(c *gin.Context) {
	var req models.AssignIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}

	issue, err := h.service.Assign(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, issue, nil)
}

// Upvote godoc
// @Summary Upvote an issue
// @Description Bump the support counter; every call counts
// @Tags Issues
// @Produce json
// @Param id path string true "Issue ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /issues/{id}/upvote [post]
func (h *IssueHandler) Upvote(c *gin.Context) {
	upvotes, err := h.service.Upvote(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"upvotes": upvotes}, nil)
}

// ListUpdates godoc
// @Summary Issue status history
// @Description Append-only status history, oldest first
// @Tags Issues
// @Produce json
// @Param id path string true "Issue ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /issues/{id}/updates [get]
func (h *IssueHandler) ListUpdates(c *gin.Context) {
	updates, err := h.service.ListUpdates(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, updates, nil)
}

// Comment godoc
// @Summary Comment on an issue
// @Description Add a comment or a reply to an existing comment
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body models.CommentRequest true "Comment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /issues/{id}/comments [post]
func (h *IssueHandler) Comment(c *gin.Context) {
	var req models.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}

	comment, err := h.service.Comment(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, comment)
}

// ListComments godoc
// @Summary List issue comments
// @Description Comment thread for an issue
// @Tags Issues
// @Produce json
// @Param id path string true "Issue ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /issues/{id}/comments [get]
func (h *IssueHandler) ListComments(c *gin.Context) {
	comments, err := h.service.ListComments(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, comments, nil)
}

// LikeComment godoc
// @Summary Like a comment
// @Description One like per user per comment
// @Tags Issues
// @Produce json
// @Param id path string true "Comment ID"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /comments/{id}/like [post]
func (h *IssueHandler) LikeComment(c *gin.Context) {
	comment, err := h.service.LikeComment(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, comment, nil)
}

// Respond godoc
// @Summary Post an official response
// @Description Append an official municipal response to an issue
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body models.RespondRequest true "Response payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /issues/{id}/respond [post]
func (h *IssueHandler) Respond(c *gin.Context) {
	var req models.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid response payload"))
		return
	}

	resp, err := h.service.Respond(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, resp)
}

// AddProgressPhoto godoc
// @Summary Attach a progress photo
// @Description Field-work photo; a photo on a NEW issue from its assigned worker starts review
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body models.ProgressPhotoRequest true "Photo payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /issues/{id}/photos [post]
func (h *IssueHandler) AddProgressPhoto(c *gin.Context) {
	var req models.ProgressPhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid photo payload"))
		return
	}

	photo, err := h.service.AddProgressPhoto(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, photo)
}
