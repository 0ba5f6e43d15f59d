package materialize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plantakeoff/autocount-go/internal/conf"
	"github.com/plantakeoff/autocount-go/internal/errors"
)

// sinkError categorizes a takeoff endpoint failure for callers that route
// on error category.
func sinkError(err error) error {
	return errors.New(err).
		Component("materialize").
		Category(errors.CategoryNetwork).
		Build()
}

// HTTPSink posts measurements to a takeoff system endpoint.
type HTTPSink struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSink creates a sink for the configured takeoff endpoint.
func NewHTTPSink(endpoint, apiKey string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSink{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type measurementRequest struct {
	ConditionID string  `json:"condition_id"`
	PageID      string  `json:"page_id"`
	Kind        string  `json:"kind"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	Provenance  string  `json:"provenance"`
}

type measurementResponse struct {
	ID string `json:"id"`
}

// Create posts the measurement and returns the identifier the takeoff system
// assigned to it.
func (s *HTTPSink) Create(ctx context.Context, m Measurement) (string, error) {
	body, err := json.Marshal(measurementRequest{
		ConditionID: m.ConditionID,
		PageID:      m.PageID,
		Kind:        m.Kind,
		X:           m.X,
		Y:           m.Y,
		Quantity:    m.Quantity,
		Unit:        m.Unit,
		Provenance:  m.Provenance,
	})
	if err != nil {
		return "", fmt.Errorf("encoding measurement: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating measurement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", sinkError(fmt.Errorf("posting measurement: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", sinkError(fmt.Errorf("takeoff endpoint returned status %d", resp.StatusCode))
	}

	var parsed measurementResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding measurement response: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("takeoff endpoint returned no measurement id")
	}
	return parsed.ID, nil
}

// FileSink appends measurements to a JSON-lines file. It stands in for a real
// takeoff system in standalone deployments.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates a sink appending to the given file.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

type fileMeasurement struct {
	ID string `json:"id"`
	measurementRequest
	CreatedAt time.Time `json:"created_at"`
}

// Create appends the measurement as one JSON line and returns a generated id.
func (s *FileSink) Create(_ context.Context, m Measurement) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("opening measurement file: %w", err)
	}
	defer func() { _ = f.Close() }()

	record := fileMeasurement{
		ID: uuid.NewString(),
		measurementRequest: measurementRequest{
			ConditionID: m.ConditionID,
			PageID:      m.PageID,
			Kind:        m.Kind,
			X:           m.X,
			Y:           m.Y,
			Quantity:    m.Quantity,
			Unit:        m.Unit,
			Provenance:  m.Provenance,
		},
		CreatedAt: time.Now(),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encoding measurement: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("writing measurement: %w", err)
	}
	return record.ID, nil
}

// NewSink returns the sink matching the configuration: HTTP when an endpoint
// is set, the local file otherwise.
func NewSink(settings *conf.Settings) MeasurementSink {
	if settings.Takeoff.Endpoint != "" {
		return NewHTTPSink(settings.Takeoff.Endpoint, settings.Takeoff.APIKey, settings.Takeoff.Timeout)
	}
	return NewFileSink(settings.Takeoff.Path)
}
