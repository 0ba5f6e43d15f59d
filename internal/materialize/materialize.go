// Package materialize turns confirmed detections into takeoff measurements,
// at most once per detection.
package materialize

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plantakeoff/autocount-go/internal/datastore"
	"github.com/plantakeoff/autocount-go/internal/logging"
	"github.com/plantakeoff/autocount-go/internal/observability"
)

// Measurement is the downstream record created from one confirmed detection.
// Count measurements are points with a fixed quantity of one each.
type Measurement struct {
	ConditionID string
	PageID      string
	Kind        string
	X           float64
	Y           float64
	Quantity    float64
	Unit        string
	// Provenance records where the measurement came from, including the
	// similarity score and detection method.
	Provenance string
}

// MeasurementSink is the takeoff system the measurements are written to. It
// returns the identifier of the created measurement.
type MeasurementSink interface {
	Create(ctx context.Context, m Measurement) (string, error)
}

// Materializer writes confirmed detections to the sink and records the
// measurement link so retries never create duplicates.
type Materializer struct {
	ds      datastore.Interface
	sink    MeasurementSink
	metrics *observability.Metrics
	log     *slog.Logger
}

// NewMaterializer creates a materializer over the given sink.
func NewMaterializer(ds datastore.Interface, sink MeasurementSink, metrics *observability.Metrics) *Materializer {
	return &Materializer{
		ds:      ds,
		sink:    sink,
		metrics: metrics,
		log:     logging.ForService("materialize"),
	}
}

// Materialize creates one measurement for every confirmed detection of the
// session that does not have one yet and returns how many it created.
// Detections already linked to a measurement are skipped, so calling it again
// after a partial failure only processes the remainder.
func (m *Materializer) Materialize(ctx context.Context, sessionID string) (int, error) {
	session, err := m.ds.GetSession(sessionID)
	if err != nil {
		return 0, err
	}

	detections, err := m.ds.ListUnmaterializedConfirmed(sessionID)
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range detections {
		d := &detections[i]
		measurementID, err := m.sink.Create(ctx, Measurement{
			ConditionID: session.ConditionID,
			PageID:      d.PageID,
			Kind:        "point",
			X:           d.CenterX,
			Y:           d.CenterY,
			Quantity:    1,
			Unit:        "EA",
			Provenance: fmt.Sprintf("autocount %s score=%.3f session=%s",
				d.Provenance, d.SimilarityScore, sessionID),
		})
		if err != nil {
			// Already-created measurements keep their links, so the
			// retry resumes exactly here.
			return created, fmt.Errorf("creating measurement for detection %d: %w", d.ID, err)
		}

		linked, err := m.ds.SetMeasurementLink(d.ID, measurementID)
		if err != nil {
			return created, err
		}
		if !linked {
			// A concurrent call got there first. The sink now holds an
			// orphan measurement worth flagging.
			m.log.Warn("detection already materialized",
				"detection_id", d.ID,
				"orphan_measurement_id", measurementID)
			continue
		}
		m.metrics.RecordMeasurement()
		created++
	}

	if created > 0 {
		m.log.Info("materialized detections",
			"session_id", sessionID,
			"created", created)
	}
	return created, nil
}
