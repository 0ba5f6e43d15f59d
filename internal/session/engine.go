// Package session drives the lifecycle of auto-count sessions: creation,
// the background detection run, review operations and deletion.
package session

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/plantakeoff/autocount-go/internal/conf"
	"github.com/plantakeoff/autocount-go/internal/datastore"
	"github.com/plantakeoff/autocount-go/internal/errors"
	"github.com/plantakeoff/autocount-go/internal/imagestore"
	"github.com/plantakeoff/autocount-go/internal/logging"
	"github.com/plantakeoff/autocount-go/internal/matcher"
	"github.com/plantakeoff/autocount-go/internal/observability"
	"github.com/plantakeoff/autocount-go/internal/semantic"
	"github.com/plantakeoff/autocount-go/internal/template"
)

// ErrInvalidParameters is returned when session creation parameters fail
// validation.
var ErrInvalidParameters = errors.NewStd("invalid session parameters")

// ErrSemanticUnavailable is returned when a semantic-only run is requested
// but no vision model is configured, or the model fails.
var ErrSemanticUnavailable = errors.NewStd("semantic matching unavailable")

// CreateParams carries everything needed to create a session.
type CreateParams struct {
	ConditionID  string
	PageID       string
	ScopePageIDs []string

	Template template.Region

	Method            string
	Threshold         float64
	ScaleTolerance    float64
	RotationTolerance float64
}

func (p *CreateParams) validate() error {
	if p.PageID == "" {
		return fmt.Errorf("page_id is required: %w", ErrInvalidParameters)
	}
	if p.Template.Width <= 0 || p.Template.Height <= 0 {
		return fmt.Errorf("template size %.1fx%.1f: %w",
			p.Template.Width, p.Template.Height, ErrInvalidParameters)
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return fmt.Errorf("threshold %.3f out of range [0,1]: %w",
			p.Threshold, ErrInvalidParameters)
	}
	switch p.Method {
	case datastore.MethodGeometric, datastore.MethodSemantic, datastore.MethodHybrid:
	case "":
		p.Method = datastore.MethodHybrid
	default:
		return fmt.Errorf("unknown method %q: %w", p.Method, ErrInvalidParameters)
	}
	if p.ScaleTolerance < 0 || p.RotationTolerance < 0 {
		return fmt.Errorf("negative tolerance: %w", ErrInvalidParameters)
	}
	// Semantic matching is anchored to the marked page; extra scope pages
	// would silently go unsearched without a geometric pass.
	if p.Method == datastore.MethodSemantic && len(p.ScopePageIDs) > 0 {
		return fmt.Errorf("semantic-only sessions cannot search scope pages: %w", ErrInvalidParameters)
	}
	return nil
}

// Engine coordinates the detection pipeline around the datastore.
type Engine struct {
	ds        datastore.Interface
	images    imagestore.Store
	extractor *template.Extractor
	geometric *matcher.GeometricMatcher
	semantic  *semantic.Matcher // nil when no vision model is configured
	settings  *conf.Settings
	metrics   *observability.Metrics
	log       *slog.Logger

	runs sync.WaitGroup
}

// NewEngine assembles the engine. The semantic matcher may be nil, which
// disables semantic matching: hybrid sessions degrade to geometric-only and
// semantic-only sessions fail.
func NewEngine(ds datastore.Interface, images imagestore.Store, sem *semantic.Matcher,
	settings *conf.Settings, metrics *observability.Metrics) *Engine {
	return &Engine{
		ds:        ds,
		images:    images,
		extractor: template.NewExtractor(settings.Detection.TemplatePadding),
		geometric: matcher.NewGeometricMatcher(),
		semantic:  sem,
		settings:  settings,
		metrics:   metrics,
		log:       logging.ForService("session"),
	}
}

// Create validates the parameters, extracts and caches the template crop and
// persists a new pending session.
func (e *Engine) Create(ctx context.Context, params CreateParams) (*datastore.AutoCountSession, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	page, err := e.images.FetchImage(ctx, params.PageID)
	if err != nil {
		return nil, fmt.Errorf("fetching page %s: %w", params.PageID, err)
	}
	templatePNG, err := e.extractor.ExtractPNG(page, params.Template)
	if err != nil {
		return nil, err
	}

	session := &datastore.AutoCountSession{
		ID:                uuid.NewString(),
		ConditionID:       params.ConditionID,
		PageID:            params.PageID,
		ScopePageIDs:      strings.Join(params.ScopePageIDs, ","),
		TemplateX:         params.Template.CenterX,
		TemplateY:         params.Template.CenterY,
		TemplateWidth:     params.Template.Width,
		TemplateHeight:    params.Template.Height,
		TemplateImage:     templatePNG,
		Method:            params.Method,
		Threshold:         params.Threshold,
		ScaleTolerance:    params.ScaleTolerance,
		RotationTolerance: params.RotationTolerance,
		Status:            datastore.SessionPending,
		CreatedAt:         time.Now(),
	}
	if err := e.ds.SaveSession(session); err != nil {
		return nil, err
	}

	e.log.Info("session created",
		"session_id", session.ID,
		"page_id", session.PageID,
		"method", session.Method,
		"threshold", session.Threshold)
	return session, nil
}

// Start launches the detection run for a pending session in the background.
// The pending -> processing transition happens synchronously so the caller
// learns immediately whether the run was accepted.
func (e *Engine) Start(sessionID string) error {
	if err := e.ds.BeginRun(sessionID, time.Now()); err != nil {
		return err
	}
	e.runs.Add(1)
	go func() {
		defer e.runs.Done()
		e.run(context.Background(), sessionID)
	}()
	return nil
}

// Wait blocks until all in-flight runs finish. Used during shutdown.
func (e *Engine) Wait() {
	e.runs.Wait()
}

// run executes the detection pipeline for a session that is already in
// processing state. All failure paths end in FailRun so the session never
// sticks in processing.
func (e *Engine) run(ctx context.Context, sessionID string) {
	started := time.Now()

	session, err := e.ds.GetSession(sessionID)
	if err != nil {
		e.log.Error("run aborted, session unreadable", "session_id", sessionID, "error", err)
		e.metrics.RecordRun(datastore.SessionFailed, time.Since(started).Seconds())
		e.failRun(sessionID, fmt.Sprintf("reading session: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.settings.Detection.RunTimeout)
	defer cancel()

	detections, err := e.detect(ctx, session)
	if err != nil {
		e.log.Error("detection run failed",
			"session_id", sessionID,
			"duration", time.Since(started),
			"error", err)
		e.metrics.RecordRun(datastore.SessionFailed, time.Since(started).Seconds())
		e.failRun(sessionID, err.Error())
		return
	}

	if err := e.ds.CompleteRun(sessionID, detections); err != nil {
		e.log.Error("persisting run results", "session_id", sessionID, "error", err)
		e.metrics.RecordRun(datastore.SessionFailed, time.Since(started).Seconds())
		e.failRun(sessionID, fmt.Sprintf("persisting results: %v", err))
		return
	}

	e.metrics.RecordRun(datastore.SessionCompleted, time.Since(started).Seconds())
	e.metrics.RecordDetections(len(detections))
	e.log.Info("detection run completed",
		"session_id", sessionID,
		"detections", len(detections),
		"duration", time.Since(started))
}

// failRun moves a processing session to failed, best effort. Every error
// path out of run funnels through here so a session never stays in
// processing once its goroutine is gone.
func (e *Engine) failRun(sessionID, message string) {
	if err := e.ds.FailRun(sessionID, message); err != nil {
		e.log.Error("marking session failed", "session_id", sessionID, "error", err)
	}
}

// detect runs the configured matchers over every page in scope and returns
// the deduplicated, ranked detection rows.
func (e *Engine) detect(ctx context.Context, session *datastore.AutoCountSession) ([]datastore.AutoCountDetection, error) {
	if session.Method == datastore.MethodSemantic && e.semantic == nil {
		return nil, fmt.Errorf("no vision model configured: %w", ErrSemanticUnavailable)
	}

	region := template.Region{
		CenterX: session.TemplateX,
		CenterY: session.TemplateY,
		Width:   session.TemplateWidth,
		Height:  session.TemplateHeight,
	}

	templatePage, err := e.images.FetchImage(ctx, session.PageID)
	if err != nil {
		return nil, fmt.Errorf("fetching template page: %w", err)
	}
	tmpl, err := e.extractor.Extract(templatePage, region)
	if err != nil {
		return nil, err
	}

	var detections []datastore.AutoCountDetection
	for _, pageID := range e.scopePages(session) {
		page := templatePage
		if pageID != session.PageID {
			page, err = e.images.FetchImage(ctx, pageID)
			if err != nil {
				return nil, fmt.Errorf("fetching page %s: %w", pageID, err)
			}
		}
		candidates, err := e.matchPage(ctx, session, page, tmpl, region, pageID)
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			detections = append(detections, toDetection(c, pageID))
		}
	}

	rank(detections)
	return detections, nil
}

// matchPage runs the geometric and semantic matchers concurrently over one
// page and fuses their deduplicated results.
func (e *Engine) matchPage(ctx context.Context, session *datastore.AutoCountSession,
	page, tmpl image.Image, region template.Region, pageID string) ([]matcher.Candidate, error) {

	iou := e.settings.Detection.SuppressionIoU
	if iou <= 0 {
		iou = matcher.DefaultSuppressionIoU
	}

	var geometric, semanticCands []matcher.Candidate
	g, gctx := errgroup.WithContext(ctx)

	if session.Method != datastore.MethodSemantic {
		g.Go(func() error {
			found, err := e.geometric.FindMatches(gctx, page, tmpl, matcher.Params{
				Threshold:         session.Threshold,
				ScaleTolerance:    session.ScaleTolerance,
				RotationTolerance: session.RotationTolerance,
				ScaleSteps:        e.settings.Detection.ScaleSteps,
				RotationSteps:     e.settings.Detection.RotationSteps,
				MaxCandidates:     e.settings.Detection.MaxCandidates,
			})
			if err != nil {
				return err
			}
			geometric = found
			return nil
		})
	}

	// The marker overlay is drawn at the template coordinates, which only
	// exist on the page the user marked. Semantic matching stays on that
	// page; extra scope pages are searched geometrically.
	if session.Method != datastore.MethodGeometric && e.semantic != nil && pageID == session.PageID {
		g.Go(func() error {
			result, err := e.semantic.FindMatches(gctx, page, region)
			if err != nil {
				if session.Method == datastore.MethodHybrid {
					// Semantic failure degrades a hybrid run instead
					// of killing it.
					e.metrics.RecordVisionFailure()
					e.log.Warn("semantic matcher failed, continuing geometric-only",
						"session_id", session.ID,
						"page_id", pageID,
						"error", err)
					return nil
				}
				e.metrics.RecordVisionFailure()
				return fmt.Errorf("%w: %v", ErrSemanticUnavailable, err)
			}
			for _, c := range result.Candidates {
				if c.Score >= session.Threshold {
					semanticCands = append(semanticCands, c)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	geometric = matcher.Suppress(geometric, iou)
	semanticCands = matcher.Suppress(semanticCands, iou)
	if session.Method == datastore.MethodSemantic {
		return semanticCands, nil
	}
	return matcher.Fuse(geometric, semanticCands, iou), nil
}

// scopePages returns the pages the session searches, template page first.
func (e *Engine) scopePages(session *datastore.AutoCountSession) []string {
	pages := []string{session.PageID}
	if session.ScopePageIDs == "" {
		return pages
	}
	seen := map[string]bool{session.PageID: true}
	for _, id := range strings.Split(session.ScopePageIDs, ",") {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		pages = append(pages, id)
	}
	return pages
}

func toDetection(c matcher.Candidate, pageID string) datastore.AutoCountDetection {
	bbox := c.BBox()
	return datastore.AutoCountDetection{
		PageID:          pageID,
		CenterX:         c.CenterX,
		CenterY:         c.CenterY,
		Width:           c.Width,
		Height:          c.Height,
		Rotation:        c.Rotation,
		X1:              bbox.X1,
		Y1:              bbox.Y1,
		X2:              bbox.X2,
		Y2:              bbox.Y2,
		SimilarityScore: c.Score,
		GeometricScore:  c.GeometricScore,
		SemanticScore:   c.SemanticScore,
		Provenance:      c.Provenance,
		Status:          datastore.DetectionPending,
	}
}

// rank orders detections by score descending, preserving insertion order for
// equal scores, and assigns 1-based display ranks.
func rank(detections []datastore.AutoCountDetection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].SimilarityScore > detections[j].SimilarityScore
	})
	for i := range detections {
		detections[i].Rank = i + 1
	}
}

// Confirm marks a pending detection confirmed.
func (e *Engine) Confirm(detectionID uint) error {
	return e.ds.ReviewDetection(detectionID, datastore.DetectionConfirmed)
}

// Reject marks a pending detection rejected.
func (e *Engine) Reject(detectionID uint) error {
	return e.ds.ReviewDetection(detectionID, datastore.DetectionRejected)
}

// BulkConfirmAboveThreshold confirms all pending detections of the session
// scoring at or above the threshold and returns how many it confirmed.
func (e *Engine) BulkConfirmAboveThreshold(sessionID string, threshold float64) (int64, error) {
	if threshold < 0 || threshold > 1 {
		return 0, fmt.Errorf("threshold %.3f out of range [0,1]: %w", threshold, ErrInvalidParameters)
	}
	return e.ds.BulkConfirmAboveThreshold(sessionID, threshold)
}

// Delete removes the session and all of its detections.
func (e *Engine) Delete(sessionID string) error {
	return e.ds.DeleteSession(sessionID)
}
