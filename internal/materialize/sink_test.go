package materialize

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantakeoff/autocount-go/internal/errors"
)

func testMeasurement() Measurement {
	return Measurement{
		ConditionID: "cond-7",
		PageID:      "p1",
		Kind:        "point",
		X:           100,
		Y:           200,
		Quantity:    1,
		Unit:        "EA",
		Provenance:  "autocount geometric score=0.950",
	}
}

func TestHTTPSinkCreate(t *testing.T) {
	sink := NewHTTPSink("https://takeoff.example/api/measurements", "secret", 10*time.Second)
	httpmock.ActivateNonDefault(sink.client)
	defer httpmock.DeactivateAndReset()

	var received measurementRequest
	httpmock.RegisterResponder(http.MethodPost, "https://takeoff.example/api/measurements",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return nil, err
			}
			return httpmock.NewJsonResponse(http.StatusCreated, map[string]string{"id": "meas-42"})
		})

	id, err := sink.Create(context.Background(), testMeasurement())
	require.NoError(t, err)
	assert.Equal(t, "meas-42", id)
	assert.Equal(t, "cond-7", received.ConditionID)
	assert.Equal(t, "point", received.Kind)
	assert.Equal(t, 1.0, received.Quantity)
}

func TestHTTPSinkServerError(t *testing.T) {
	sink := NewHTTPSink("https://takeoff.example/api/measurements", "", 10*time.Second)
	httpmock.ActivateNonDefault(sink.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://takeoff.example/api/measurements",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, err := sink.Create(context.Background(), testMeasurement())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestHTTPSinkMissingID(t *testing.T) {
	sink := NewHTTPSink("https://takeoff.example/api/measurements", "", 10*time.Second)
	httpmock.ActivateNonDefault(sink.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://takeoff.example/api/measurements",
		httpmock.NewStringResponder(http.StatusOK, `{}`))

	_, err := sink.Create(context.Background(), testMeasurement())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no measurement id")
}

func TestFileSinkAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "measurements.jsonl")
	sink := NewFileSink(path)

	id1, err := sink.Create(context.Background(), testMeasurement())
	require.NoError(t, err)
	id2, err := sink.Create(context.Background(), testMeasurement())
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var lines []fileMeasurement
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record fileMeasurement
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		lines = append(lines, record)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)
	assert.Equal(t, id1, lines[0].ID)
	assert.Equal(t, "EA", lines[0].Unit)
}
