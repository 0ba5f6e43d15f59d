// internal/api/v2/api.go
package api

import (
	"crypto/rand"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plantakeoff/autocount-go/internal/conf"
	"github.com/plantakeoff/autocount-go/internal/datastore"
	"github.com/plantakeoff/autocount-go/internal/errors"
	"github.com/plantakeoff/autocount-go/internal/imagestore"
	"github.com/plantakeoff/autocount-go/internal/logging"
	"github.com/plantakeoff/autocount-go/internal/materialize"
	"github.com/plantakeoff/autocount-go/internal/session"
	"github.com/plantakeoff/autocount-go/internal/template"
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo         *echo.Echo
	Group        *echo.Group
	DS           datastore.Interface
	Settings     *conf.Settings
	Engine       *session.Engine
	Materializer *materialize.Materializer

	apiLogger *slog.Logger
	startTime time.Time
}

// New creates the API controller and registers all routes under /api/v2.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	engine *session.Engine, materializer *materialize.Materializer,
	registry *prometheus.Registry) *Controller {

	c := &Controller{
		Echo:         e,
		DS:           ds,
		Settings:     settings,
		Engine:       engine,
		Materializer: materializer,
		apiLogger:    logging.ForService("api"),
		startTime:    time.Now(),
	}

	c.Group = e.Group("/api/v2")
	c.initSessionRoutes()
	c.initDetectionRoutes()
	c.Group.GET("/health", c.Health)
	if registry != nil {
		e.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	return c
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// generateCorrelationID creates a short random identifier for error tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs the error and returns the JSON error response with a
// status code derived from the error's kind.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusForError(err)
	resp := ErrorResponse{
		Error:         err.Error(),
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}

	c.apiLogger.Error("API error",
		"correlation_id", resp.CorrelationID,
		"message", message,
		"error", err.Error(),
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP())

	return ctx.JSON(code, resp)
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidParameters),
		errors.Is(err, template.ErrInvalidTemplateRegion):
		return http.StatusBadRequest
	case errors.Is(err, datastore.ErrNotFound),
		errors.Is(err, imagestore.ErrPageNotFound):
		return http.StatusNotFound
	case errors.Is(err, datastore.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, session.ErrSemanticUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PaginatedResponse represents a paginated API response.
type PaginatedResponse struct {
	Data        any   `json:"data"`
	Total       int64 `json:"total"`
	Limit       int   `json:"limit"`
	Offset      int   `json:"offset"`
	CurrentPage int   `json:"current_page"`
	TotalPages  int   `json:"total_pages"`
}

func paginated(data any, total int64, limit, offset int) PaginatedResponse {
	resp := PaginatedResponse{
		Data:   data,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	if limit > 0 {
		resp.CurrentPage = offset/limit + 1
		resp.TotalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return resp
}

// HealthResponse reports server liveness.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// Health handles GET /api/v2/health.
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(c.startTime).Round(time.Second).String(),
	})
}
