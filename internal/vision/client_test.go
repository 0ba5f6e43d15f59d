package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://vision.example.com/v1/chat/completions"

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(testEndpoint, "test-key", "gpt-4o", 5*time.Second)
	httpmock.ActivateNonDefault(c.client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestAnalyzeReturnsContent(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))

			var body chatRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "gpt-4o", body.Model)
			require.Len(t, body.Messages, 1)

			// The image travels inline as a base64 data URL.
			raw, err := json.Marshal(body.Messages[0].Content)
			require.NoError(t, err)
			assert.Contains(t, string(raw), "data:image/png;base64,")

			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": `{"matches": []}`}},
				},
			})
		})

	out, err := c.Analyze(context.Background(), []byte{0x89, 0x50}, "find matches")
	require.NoError(t, err)
	assert.Equal(t, `{"matches": []}`, out)
}

func TestAnalyzeAPIError(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusTooManyRequests, "rate limited"))

	_, err := c.Analyze(context.Background(), []byte{1}, "prompt")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "429")
}

func TestAnalyzeTimeout(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Analyze(ctx, []byte{1}, "prompt")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestAnalyzeNoChoices(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusOK, `{"choices": []}`))

	_, err := c.Analyze(context.Background(), []byte{1}, "prompt")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestAnalyzeStructuredContent(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusOK,
			`{"choices":[{"message":{"content":{"matches":[]}}}]}`))

	out, err := c.Analyze(context.Background(), []byte{1}, "prompt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "{"))
}
