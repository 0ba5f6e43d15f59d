// model.go this code defines the data model for auto count sessions and detections
package datastore

import "time"

// Session lifecycle statuses. Completed and failed are terminal.
const (
	SessionPending    = "pending"
	SessionProcessing = "processing"
	SessionCompleted  = "completed"
	SessionFailed     = "failed"
)

// Detection review statuses. Pending detections may move to confirmed or
// rejected exactly once.
const (
	DetectionPending   = "pending"
	DetectionConfirmed = "confirmed"
	DetectionRejected  = "rejected"
)

// Detection methods selectable per session.
const (
	MethodGeometric = "geometric"
	MethodSemantic  = "semantic"
	MethodHybrid    = "hybrid"
)

// Detection provenance values.
const (
	ProvenanceGeometric = "geometric"
	ProvenanceSemantic  = "semantic"
	ProvenanceBoth      = "both"
)

// AutoCountSession represents one similarity-search run over a plan page.
type AutoCountSession struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	ConditionID string `gorm:"index:idx_sessions_condition"` // owning takeoff condition, external reference
	PageID      string `gorm:"index:idx_sessions_page"`
	// ScopePageIDs optionally widens the search beyond PageID. Stored as a
	// comma-separated list; empty means single-page search.
	ScopePageIDs string

	// Template definition in page-pixel space.
	TemplateX      float64
	TemplateY      float64
	TemplateWidth  float64
	TemplateHeight float64
	TemplateImage  []byte `gorm:"type:blob"` // cached PNG crop for re-display

	// Detection parameters.
	Method            string  `gorm:"type:varchar(16)"`
	Threshold         float64 // similarity threshold [0,1]
	ScaleTolerance    float64 // fractional
	RotationTolerance float64 // degrees

	// Denormalized aggregates, recomputed on every status-changing operation.
	// Invariant: ConfirmedCount + RejectedCount + PendingCount == TotalDetections.
	TotalDetections int
	ConfirmedCount  int
	RejectedCount   int
	PendingCount    int

	Status       string `gorm:"type:varchar(16);index:idx_sessions_status"`
	ErrorMessage string `gorm:"type:text"`

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Detections []AutoCountDetection `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// ProcessingDuration returns how long the detection run took, or zero if the
// session has not finished.
func (s *AutoCountSession) ProcessingDuration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// IsTerminal reports whether the session can no longer change lifecycle state.
func (s *AutoCountSession) IsTerminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionFailed
}

// AutoCountDetection is one candidate match belonging to exactly one session.
type AutoCountDetection struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"type:varchar(36);index:idx_detections_session;not null"`
	PageID    string `gorm:"index:idx_detections_page"`

	// Geometry: rotated box plus the derived axis-aligned bounding box used
	// for display and overlap computation.
	CenterX  float64
	CenterY  float64
	Width    float64
	Height   float64
	Rotation float64 // degrees
	X1       float64
	Y1       float64
	X2       float64
	Y2       float64

	// SimilarityScore is the single canonical score used for all ranking and
	// threshold decisions. The contributing scores are kept for traceability;
	// one or both may be absent depending on which matcher found it.
	SimilarityScore float64 `gorm:"index:idx_detections_score"`
	GeometricScore  *float64
	SemanticScore   *float64

	Provenance string `gorm:"type:varchar(12)"`
	Status     string `gorm:"type:varchar(12);index:idx_detections_status"`

	// MeasurementID is nullable and set exactly once. It is the idempotency
	// guard for materialization.
	MeasurementID *string `gorm:"type:varchar(36)"`

	// Rank orders detections for display: score descending, insertion order
	// breaking ties.
	Rank int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Copy creates a deep copy of the detection.
func (d AutoCountDetection) Copy() AutoCountDetection {
	out := d
	if d.GeometricScore != nil {
		v := *d.GeometricScore
		out.GeometricScore = &v
	}
	if d.SemanticScore != nil {
		v := *d.SemanticScore
		out.SemanticScore = &v
	}
	if d.MeasurementID != nil {
		v := *d.MeasurementID
		out.MeasurementID = &v
	}
	return out
}
