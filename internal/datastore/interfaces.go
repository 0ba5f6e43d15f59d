// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/plantakeoff/autocount-go/internal/conf"
	"github.com/plantakeoff/autocount-go/internal/errors"
)

// ErrInvalidTransition is returned when a lifecycle or review operation is
// attempted against a row that is not in the required state.
var ErrInvalidTransition = errors.NewStd("invalid state transition")

// ErrNotFound is returned when a requested session or detection does not exist.
var ErrNotFound = errors.NewStd("record not found")

// transitionError builds a categorized state error that still satisfies
// errors.Is(err, ErrInvalidTransition).
func transitionError(format string, args ...any) error {
	args = append(args, ErrInvalidTransition)
	return errors.New(fmt.Errorf(format+": %w", args...)).
		Component("datastore").
		Category(errors.CategoryState).
		Build()
}

// DetectionFilter narrows ListDetections results.
type DetectionFilter struct {
	Status   string  // empty matches all statuses
	MinScore float64 // 0 matches all scores
	Limit    int
	Offset   int
}

// Interface abstracts the underlying database implementation and defines the
// persistence operations of the detection core.
type Interface interface {
	Open() error
	Close() error

	SaveSession(session *AutoCountSession) error
	GetSession(id string) (*AutoCountSession, error)
	ListSessions(pageID, conditionID string, limit, offset int) ([]AutoCountSession, int64, error)
	// DeleteSession removes a session and all of its detections.
	DeleteSession(id string) error

	// BeginRun transitions a session from pending to processing. The
	// transition is one-way and guarded: a session that is not pending
	// yields ErrInvalidTransition.
	BeginRun(sessionID string, startedAt time.Time) error
	// CompleteRun persists the detection batch and final aggregate counts
	// and marks the session completed, all in one transaction.
	CompleteRun(sessionID string, detections []AutoCountDetection) error
	// FailRun marks the session failed with a human-readable message. No
	// detections from the failed attempt are persisted.
	FailRun(sessionID, message string) error

	GetDetection(id uint) (*AutoCountDetection, error)
	ListDetections(sessionID string, filter DetectionFilter) ([]AutoCountDetection, int64, error)

	// ReviewDetection moves a pending detection to confirmed or rejected and
	// applies atomic counter updates on the owning session. A detection not
	// in pending status yields ErrInvalidTransition and counters are left
	// untouched.
	ReviewDetection(id uint, status string) error
	// BulkConfirmAboveThreshold confirms every pending detection of the
	// session with score >= threshold and returns the number confirmed.
	BulkConfirmAboveThreshold(sessionID string, threshold float64) (int64, error)

	// ListUnmaterializedConfirmed returns confirmed detections without a
	// measurement link, in rank order.
	ListUnmaterializedConfirmed(sessionID string) ([]AutoCountDetection, error)
	// SetMeasurementLink records the measurement created from a detection.
	// The link is set at most once; the boolean reports whether this call
	// set it.
	SetMeasurementLink(detectionID uint, measurementID string) (bool, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a datastore instance based on the configured backend.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// SaveSession inserts a new session row.
func (ds *DataStore) SaveSession(session *AutoCountSession) error {
	if err := ds.DB.Create(session).Error; err != nil {
		return errors.New(fmt.Errorf("saving session: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("session_id", session.ID).
			Build()
	}
	return nil
}

// GetSession retrieves a session by ID without its detections. Detections are
// listed separately so large sessions do not load thousands of rows eagerly.
func (ds *DataStore) GetSession(id string) (*AutoCountSession, error) {
	var session AutoCountSession
	if err := ds.DB.First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return &session, nil
}

// ListSessions returns sessions filtered by page and/or condition, newest first.
func (ds *DataStore) ListSessions(pageID, conditionID string, limit, offset int) ([]AutoCountSession, int64, error) {
	query := ds.DB.Model(&AutoCountSession{})
	if pageID != "" {
		query = query.Where("page_id = ?", pageID)
	}
	if conditionID != "" {
		query = query.Where("condition_id = ?", conditionID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting sessions: %w", err)
	}

	var sessions []AutoCountSession
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, total, nil
}

// DeleteSession removes the session and cascades to its detections. The
// cascade is explicit so it works identically on backends without enforced
// foreign keys.
func (ds *DataStore) DeleteSession(id string) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&AutoCountDetection{}).Error; err != nil {
			return fmt.Errorf("deleting session detections: %w", err)
		}
		result := tx.Delete(&AutoCountSession{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("deleting session: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// BeginRun performs the guarded pending -> processing transition.
func (ds *DataStore) BeginRun(sessionID string, startedAt time.Time) error {
	result := ds.DB.Model(&AutoCountSession{}).
		Where("id = ? AND status = ?", sessionID, SessionPending).
		Updates(map[string]any{
			"status":     SessionProcessing,
			"started_at": startedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("starting session run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return transitionError("session %s is not pending", sessionID)
	}
	return nil
}

// CompleteRun persists the detection batch, aggregate counts and the
// completed status in a single transaction.
func (ds *DataStore) CompleteRun(sessionID string, detections []AutoCountDetection) error {
	now := time.Now()
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		for i := range detections {
			detections[i].SessionID = sessionID
		}
		if len(detections) > 0 {
			if err := tx.CreateInBatches(detections, 200).Error; err != nil {
				return fmt.Errorf("saving detections: %w", err)
			}
		}
		result := tx.Model(&AutoCountSession{}).
			Where("id = ? AND status = ?", sessionID, SessionProcessing).
			Updates(map[string]any{
				"status":           SessionCompleted,
				"completed_at":     now,
				"total_detections": len(detections),
				"pending_count":    len(detections),
				"confirmed_count":  0,
				"rejected_count":   0,
			})
		if result.Error != nil {
			return fmt.Errorf("completing session: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return transitionError("session %s is not processing", sessionID)
		}
		return nil
	})
}

// FailRun marks the session failed with the captured message.
func (ds *DataStore) FailRun(sessionID, message string) error {
	now := time.Now()
	result := ds.DB.Model(&AutoCountSession{}).
		Where("id = ? AND status = ?", sessionID, SessionProcessing).
		Updates(map[string]any{
			"status":        SessionFailed,
			"error_message": message,
			"completed_at":  now,
		})
	if result.Error != nil {
		return fmt.Errorf("failing session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return transitionError("session %s is not processing", sessionID)
	}
	return nil
}

// GetDetection retrieves a single detection by ID.
func (ds *DataStore) GetDetection(id uint) (*AutoCountDetection, error) {
	var detection AutoCountDetection
	if err := ds.DB.First(&detection, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("detection %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting detection %d: %w", id, err)
	}
	return &detection, nil
}

// ListDetections returns a session's detections in rank order, optionally
// filtered by review status and minimum score.
func (ds *DataStore) ListDetections(sessionID string, filter DetectionFilter) ([]AutoCountDetection, int64, error) {
	query := ds.DB.Model(&AutoCountDetection{}).Where("session_id = ?", sessionID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.MinScore > 0 {
		query = query.Where("similarity_score >= ?", filter.MinScore)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting detections: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}

	var detections []AutoCountDetection
	if err := query.Order("rank ASC").Find(&detections).Error; err != nil {
		return nil, 0, fmt.Errorf("listing detections: %w", err)
	}
	return detections, total, nil
}

// ReviewDetection applies the one-way pending -> confirmed/rejected
// transition with atomic counter updates on the owning session. The guarded
// UPDATE makes concurrent reviews of different detections safe: each call
// adjusts the stored aggregates with SQL increments rather than a
// read-modify-write of a stale snapshot.
func (ds *DataStore) ReviewDetection(id uint, status string) error {
	if status != DetectionConfirmed && status != DetectionRejected {
		return transitionError("review status %q", status)
	}
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var detection AutoCountDetection
		if err := tx.First(&detection, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("detection %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("getting detection %d: %w", id, err)
		}

		result := tx.Model(&AutoCountDetection{}).
			Where("id = ? AND status = ?", id, DetectionPending).
			Update("status", status)
		if result.Error != nil {
			return fmt.Errorf("updating detection status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return transitionError("detection %d is not pending", id)
		}

		counter := "confirmed_count"
		if status == DetectionRejected {
			counter = "rejected_count"
		}
		if err := tx.Model(&AutoCountSession{}).
			Where("id = ?", detection.SessionID).
			Updates(map[string]any{
				"pending_count": gorm.Expr("pending_count - 1"),
				counter:         gorm.Expr(counter + " + 1"),
			}).Error; err != nil {
			return fmt.Errorf("updating session counters: %w", err)
		}
		return nil
	})
}

// BulkConfirmAboveThreshold confirms every currently pending detection with
// score >= threshold. Calling it again confirms nothing, since the matched
// rows are no longer pending.
func (ds *DataStore) BulkConfirmAboveThreshold(sessionID string, threshold float64) (int64, error) {
	var confirmed int64
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&AutoCountDetection{}).
			Where("session_id = ? AND status = ? AND similarity_score >= ?",
				sessionID, DetectionPending, threshold).
			Update("status", DetectionConfirmed)
		if result.Error != nil {
			return fmt.Errorf("bulk confirming detections: %w", result.Error)
		}
		confirmed = result.RowsAffected
		if confirmed == 0 {
			return nil
		}
		if err := tx.Model(&AutoCountSession{}).
			Where("id = ?", sessionID).
			Updates(map[string]any{
				"pending_count":   gorm.Expr("pending_count - ?", confirmed),
				"confirmed_count": gorm.Expr("confirmed_count + ?", confirmed),
			}).Error; err != nil {
			return fmt.Errorf("updating session counters: %w", err)
		}
		return nil
	})
	return confirmed, err
}

// ListUnmaterializedConfirmed returns confirmed detections still lacking a
// measurement link.
func (ds *DataStore) ListUnmaterializedConfirmed(sessionID string) ([]AutoCountDetection, error) {
	var detections []AutoCountDetection
	if err := ds.DB.
		Where("session_id = ? AND status = ? AND measurement_id IS NULL", sessionID, DetectionConfirmed).
		Order("rank ASC").
		Find(&detections).Error; err != nil {
		return nil, fmt.Errorf("listing unmaterialized detections: %w", err)
	}
	return detections, nil
}

// SetMeasurementLink sets the measurement reference if and only if it is
// still NULL. The guarded UPDATE is what makes materialization retries safe.
func (ds *DataStore) SetMeasurementLink(detectionID uint, measurementID string) (bool, error) {
	result := ds.DB.Model(&AutoCountDetection{}).
		Where("id = ? AND measurement_id IS NULL", detectionID).
		Update("measurement_id", measurementID)
	if result.Error != nil {
		return false, fmt.Errorf("setting measurement link: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
