// internal/api/v2/sessions.go
package api

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/plantakeoff/autocount-go/internal/datastore"
	"github.com/plantakeoff/autocount-go/internal/session"
	"github.com/plantakeoff/autocount-go/internal/template"
)

// initSessionRoutes registers all session-related API endpoints.
func (c *Controller) initSessionRoutes() {
	c.Group.POST("/sessions", c.CreateSession)
	c.Group.GET("/sessions", c.ListSessions)
	c.Group.GET("/sessions/:id", c.GetSession)
	c.Group.DELETE("/sessions/:id", c.DeleteSession)
	c.Group.POST("/sessions/:id/start", c.StartSession)
	c.Group.POST("/sessions/:id/bulk-confirm", c.BulkConfirm)
	c.Group.POST("/sessions/:id/materialize", c.MaterializeSession)
	c.Group.GET("/sessions/:id/detections", c.ListSessionDetections)
}

// CreateSessionRequest is the payload for creating a session.
type CreateSessionRequest struct {
	ConditionID  string   `json:"condition_id"`
	PageID       string   `json:"page_id"`
	ScopePageIDs []string `json:"scope_page_ids,omitempty"`

	Template struct {
		CenterX float64 `json:"center_x"`
		CenterY float64 `json:"center_y"`
		Width   float64 `json:"width"`
		Height  float64 `json:"height"`
	} `json:"template"`

	Method            string  `json:"method"`
	Threshold         float64 `json:"threshold"`
	ScaleTolerance    float64 `json:"scale_tolerance"`
	RotationTolerance float64 `json:"rotation_tolerance"`

	// Start launches the detection run immediately after creation.
	Start bool `json:"start"`
}

// SessionResponse represents a session in the API response.
type SessionResponse struct {
	ID           string  `json:"id"`
	ConditionID  string  `json:"condition_id"`
	PageID       string  `json:"page_id"`
	ScopePageIDs string  `json:"scope_page_ids,omitempty"`
	Method       string  `json:"method"`
	Threshold    float64 `json:"threshold"`
	Status       string  `json:"status"`
	ErrorMessage string  `json:"error_message,omitempty"`

	TemplateX      float64 `json:"template_x"`
	TemplateY      float64 `json:"template_y"`
	TemplateWidth  float64 `json:"template_width"`
	TemplateHeight float64 `json:"template_height"`
	TemplateImage  string  `json:"template_image,omitempty"` // base64 PNG

	TotalDetections int `json:"total_detections"`
	ConfirmedCount  int `json:"confirmed_count"`
	RejectedCount   int `json:"rejected_count"`
	PendingCount    int `json:"pending_count"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toSessionResponse(s *datastore.AutoCountSession, includeTemplate bool) SessionResponse {
	resp := SessionResponse{
		ID:              s.ID,
		ConditionID:     s.ConditionID,
		PageID:          s.PageID,
		ScopePageIDs:    s.ScopePageIDs,
		Method:          s.Method,
		Threshold:       s.Threshold,
		Status:          s.Status,
		ErrorMessage:    s.ErrorMessage,
		TemplateX:       s.TemplateX,
		TemplateY:       s.TemplateY,
		TemplateWidth:   s.TemplateWidth,
		TemplateHeight:  s.TemplateHeight,
		TotalDetections: s.TotalDetections,
		ConfirmedCount:  s.ConfirmedCount,
		RejectedCount:   s.RejectedCount,
		PendingCount:    s.PendingCount,
		CreatedAt:       s.CreatedAt,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
	}
	if includeTemplate && len(s.TemplateImage) > 0 {
		resp.TemplateImage = base64.StdEncoding.EncodeToString(s.TemplateImage)
	}
	return resp
}

// CreateSession handles POST /api/v2/sessions.
func (c *Controller) CreateSession(ctx echo.Context) error {
	var req CreateSessionRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body")
	}

	created, err := c.Engine.Create(ctx.Request().Context(), session.CreateParams{
		ConditionID:  req.ConditionID,
		PageID:       req.PageID,
		ScopePageIDs: req.ScopePageIDs,
		Template: template.Region{
			CenterX: req.Template.CenterX,
			CenterY: req.Template.CenterY,
			Width:   req.Template.Width,
			Height:  req.Template.Height,
		},
		Method:            req.Method,
		Threshold:         req.Threshold,
		ScaleTolerance:    req.ScaleTolerance,
		RotationTolerance: req.RotationTolerance,
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create session")
	}

	if req.Start {
		if err := c.Engine.Start(created.ID); err != nil {
			return c.HandleError(ctx, err, "Failed to start session")
		}
		created.Status = datastore.SessionProcessing
	}

	return ctx.JSON(http.StatusCreated, toSessionResponse(created, true))
}

// StartSession handles POST /api/v2/sessions/:id/start.
func (c *Controller) StartSession(ctx echo.Context) error {
	id := ctx.Param("id")
	if err := c.Engine.Start(id); err != nil {
		return c.HandleError(ctx, err, "Failed to start session")
	}
	return ctx.JSON(http.StatusAccepted, map[string]string{
		"id":     id,
		"status": datastore.SessionProcessing,
	})
}

// GetSession handles GET /api/v2/sessions/:id.
func (c *Controller) GetSession(ctx echo.Context) error {
	s, err := c.DS.GetSession(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get session")
	}
	includeTemplate := ctx.QueryParam("include_template") == "true"
	return ctx.JSON(http.StatusOK, toSessionResponse(s, includeTemplate))
}

// ListSessions handles GET /api/v2/sessions.
func (c *Controller) ListSessions(ctx echo.Context) error {
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	offset, _ := strconv.Atoi(ctx.QueryParam("offset"))
	if limit <= 0 {
		limit = 100
	} else if limit > 1000 {
		limit = 1000
	}

	sessions, total, err := c.DS.ListSessions(
		ctx.QueryParam("page_id"), ctx.QueryParam("condition_id"), limit, offset)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list sessions")
	}

	data := make([]SessionResponse, 0, len(sessions))
	for i := range sessions {
		data = append(data, toSessionResponse(&sessions[i], false))
	}
	return ctx.JSON(http.StatusOK, paginated(data, total, limit, offset))
}

// DeleteSession handles DELETE /api/v2/sessions/:id.
func (c *Controller) DeleteSession(ctx echo.Context) error {
	if err := c.Engine.Delete(ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete session")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// BulkConfirmRequest is the payload for bulk confirmation.
type BulkConfirmRequest struct {
	Threshold float64 `json:"threshold"`
}

// BulkConfirm handles POST /api/v2/sessions/:id/bulk-confirm.
func (c *Controller) BulkConfirm(ctx echo.Context) error {
	var req BulkConfirmRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body")
	}

	id := ctx.Param("id")
	confirmed, err := c.Engine.BulkConfirmAboveThreshold(id, req.Threshold)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to bulk confirm detections")
	}

	s, err := c.DS.GetSession(id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get session")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"confirmed": confirmed,
		"session":   toSessionResponse(s, false),
	})
}

// MaterializeSession handles POST /api/v2/sessions/:id/materialize.
func (c *Controller) MaterializeSession(ctx echo.Context) error {
	created, err := c.Materializer.Materialize(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to materialize detections")
	}
	return ctx.JSON(http.StatusOK, map[string]int{"created": created})
}
