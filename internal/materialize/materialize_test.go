package materialize

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantakeoff/autocount-go/internal/conf"
	"github.com/plantakeoff/autocount-go/internal/datastore"
)

// fakeSink records created measurements and can fail after a given count.
type fakeSink struct {
	created   []Measurement
	failAfter int // -1 never fails
}

func (s *fakeSink) Create(_ context.Context, m Measurement) (string, error) {
	if s.failAfter >= 0 && len(s.created) >= s.failAfter {
		return "", errors.New("sink unavailable")
	}
	s.created = append(s.created, m)
	return fmt.Sprintf("meas-%d", len(s.created)), nil
}

func newTestStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{
		Output: conf.OutputSettings{
			SQLite: conf.SQLiteSettings{
				Enabled: true,
				Path:    filepath.Join(t.TempDir(), "test.db"),
			},
		},
	}
	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

// seedSession creates a completed session with three detections, two of them
// confirmed.
func seedSession(t *testing.T, ds datastore.Interface) (string, []datastore.AutoCountDetection) {
	t.Helper()
	session := &datastore.AutoCountSession{
		ID:          "11111111-2222-3333-4444-555555555555",
		ConditionID: "cond-7",
		PageID:      "p1",
		Method:      datastore.MethodGeometric,
		Threshold:   0.7,
		Status:      datastore.SessionPending,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, ds.SaveSession(session))
	require.NoError(t, ds.BeginRun(session.ID, time.Now()))
	require.NoError(t, ds.CompleteRun(session.ID, []datastore.AutoCountDetection{
		{PageID: "p1", CenterX: 100, CenterY: 100, SimilarityScore: 0.95,
			Provenance: datastore.ProvenanceGeometric, Status: datastore.DetectionPending, Rank: 1},
		{PageID: "p1", CenterX: 300, CenterY: 100, SimilarityScore: 0.90,
			Provenance: datastore.ProvenanceGeometric, Status: datastore.DetectionPending, Rank: 2},
		{PageID: "p1", CenterX: 500, CenterY: 400, SimilarityScore: 0.85,
			Provenance: datastore.ProvenanceGeometric, Status: datastore.DetectionPending, Rank: 3},
	}))

	detections, _, err := ds.ListDetections(session.ID, datastore.DetectionFilter{})
	require.NoError(t, err)
	require.Len(t, detections, 3)
	require.NoError(t, ds.ReviewDetection(detections[0].ID, datastore.DetectionConfirmed))
	require.NoError(t, ds.ReviewDetection(detections[1].ID, datastore.DetectionConfirmed))
	return session.ID, detections
}

func TestMaterializeConfirmedOnly(t *testing.T) {
	t.Parallel()

	ds := newTestStore(t)
	sessionID, _ := seedSession(t, ds)
	sink := &fakeSink{failAfter: -1}

	created, err := NewMaterializer(ds, sink, nil).Materialize(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	require.Len(t, sink.created, 2)

	m := sink.created[0]
	assert.Equal(t, "cond-7", m.ConditionID)
	assert.Equal(t, "p1", m.PageID)
	assert.Equal(t, "point", m.Kind)
	assert.Equal(t, 1.0, m.Quantity)
	assert.Equal(t, "EA", m.Unit)
	assert.Contains(t, m.Provenance, "geometric")
	assert.Contains(t, m.Provenance, "0.950")
}

func TestMaterializeIsIdempotent(t *testing.T) {
	t.Parallel()

	ds := newTestStore(t)
	sessionID, _ := seedSession(t, ds)
	sink := &fakeSink{failAfter: -1}
	materializer := NewMaterializer(ds, sink, nil)

	created, err := materializer.Materialize(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = materializer.Materialize(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, created, "second call must be a no-op")
	assert.Len(t, sink.created, 2, "no duplicate measurements")
}

func TestMaterializeResumesAfterSinkFailure(t *testing.T) {
	t.Parallel()

	ds := newTestStore(t)
	sessionID, _ := seedSession(t, ds)
	sink := &fakeSink{failAfter: 1}
	materializer := NewMaterializer(ds, sink, nil)

	created, err := materializer.Materialize(context.Background(), sessionID)
	require.Error(t, err)
	assert.Equal(t, 1, created)

	// The sink recovers; the retry only processes the remaining detection.
	sink.failAfter = -1
	created, err = materializer.Materialize(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Len(t, sink.created, 2)
}

func TestMaterializeLateConfirmations(t *testing.T) {
	t.Parallel()

	ds := newTestStore(t)
	sessionID, detections := seedSession(t, ds)
	sink := &fakeSink{failAfter: -1}
	materializer := NewMaterializer(ds, sink, nil)

	created, err := materializer.Materialize(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// Confirming the third detection later picks it up on the next call.
	require.NoError(t, ds.ReviewDetection(detections[2].ID, datastore.DetectionConfirmed))
	created, err = materializer.Materialize(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestMaterializeUnknownSession(t *testing.T) {
	t.Parallel()

	ds := newTestStore(t)
	sink := &fakeSink{failAfter: -1}
	_, err := NewMaterializer(ds, sink, nil).Materialize(context.Background(), "missing")
	assert.ErrorIs(t, err, datastore.ErrNotFound)
}
