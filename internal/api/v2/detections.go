// internal/api/v2/detections.go
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/plantakeoff/autocount-go/internal/datastore"
	"github.com/plantakeoff/autocount-go/internal/session"
)

// initDetectionRoutes registers all detection-related API endpoints.
func (c *Controller) initDetectionRoutes() {
	c.Group.GET("/detections/:id", c.GetDetection)
	c.Group.POST("/detections/:id/confirm", c.ConfirmDetection)
	c.Group.POST("/detections/:id/reject", c.RejectDetection)
}

// DetectionResponse represents a detection in the API response.
type DetectionResponse struct {
	ID        uint   `json:"id"`
	SessionID string `json:"session_id"`
	PageID    string `json:"page_id"`

	CenterX  float64 `json:"center_x"`
	CenterY  float64 `json:"center_y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
	X1       float64 `json:"x1"`
	Y1       float64 `json:"y1"`
	X2       float64 `json:"x2"`
	Y2       float64 `json:"y2"`

	SimilarityScore float64  `json:"similarity_score"`
	GeometricScore  *float64 `json:"geometric_score,omitempty"`
	SemanticScore   *float64 `json:"semantic_score,omitempty"`
	Provenance      string   `json:"provenance"`
	Status          string   `json:"status"`
	MeasurementID   *string  `json:"measurement_id,omitempty"`
	Rank            int      `json:"rank"`
}

func toDetectionResponse(d *datastore.AutoCountDetection) DetectionResponse {
	return DetectionResponse{
		ID:              d.ID,
		SessionID:       d.SessionID,
		PageID:          d.PageID,
		CenterX:         d.CenterX,
		CenterY:         d.CenterY,
		Width:           d.Width,
		Height:          d.Height,
		Rotation:        d.Rotation,
		X1:              d.X1,
		Y1:              d.Y1,
		X2:              d.X2,
		Y2:              d.Y2,
		SimilarityScore: d.SimilarityScore,
		GeometricScore:  d.GeometricScore,
		SemanticScore:   d.SemanticScore,
		Provenance:      d.Provenance,
		Status:          d.Status,
		MeasurementID:   d.MeasurementID,
		Rank:            d.Rank,
	}
}

// ListSessionDetections handles GET /api/v2/sessions/:id/detections.
func (c *Controller) ListSessionDetections(ctx echo.Context) error {
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	offset, _ := strconv.Atoi(ctx.QueryParam("offset"))
	minScore, _ := strconv.ParseFloat(ctx.QueryParam("min_score"), 64)
	if limit <= 0 {
		limit = 100
	} else if limit > 1000 {
		limit = 1000
	}

	// The session lookup distinguishes an unknown session from one with no
	// detections.
	sessionID := ctx.Param("id")
	if _, err := c.DS.GetSession(sessionID); err != nil {
		return c.HandleError(ctx, err, "Failed to get session")
	}

	detections, total, err := c.DS.ListDetections(sessionID, datastore.DetectionFilter{
		Status:   ctx.QueryParam("status"),
		MinScore: minScore,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list detections")
	}

	data := make([]DetectionResponse, 0, len(detections))
	for i := range detections {
		data = append(data, toDetectionResponse(&detections[i]))
	}
	return ctx.JSON(http.StatusOK, paginated(data, total, limit, offset))
}

// GetDetection handles GET /api/v2/detections/:id.
func (c *Controller) GetDetection(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, fmt.Errorf("detection id %q: %w", ctx.Param("id"), session.ErrInvalidParameters), "Invalid detection ID")
	}
	detection, err := c.DS.GetDetection(uint(id))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get detection")
	}
	return ctx.JSON(http.StatusOK, toDetectionResponse(detection))
}

// ConfirmDetection handles POST /api/v2/detections/:id/confirm.
func (c *Controller) ConfirmDetection(ctx echo.Context) error {
	return c.reviewDetection(ctx, datastore.DetectionConfirmed)
}

// RejectDetection handles POST /api/v2/detections/:id/reject.
func (c *Controller) RejectDetection(ctx echo.Context) error {
	return c.reviewDetection(ctx, datastore.DetectionRejected)
}

func (c *Controller) reviewDetection(ctx echo.Context, status string) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, fmt.Errorf("detection id %q: %w", ctx.Param("id"), session.ErrInvalidParameters), "Invalid detection ID")
	}

	if status == datastore.DetectionConfirmed {
		err = c.Engine.Confirm(uint(id))
	} else {
		err = c.Engine.Reject(uint(id))
	}
	if err != nil {
		return c.HandleError(ctx, err, "Failed to review detection")
	}

	detection, err := c.DS.GetDetection(uint(id))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get detection")
	}
	return ctx.JSON(http.StatusOK, toDetectionResponse(detection))
}
