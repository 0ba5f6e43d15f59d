// Package vision provides the external vision-capable model client used by
// the semantic matcher. A single request/response call per analysis, no
// streaming and no session state across calls.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plantakeoff/autocount-go/internal/errors"
)

// ErrUnavailable is returned when the model call errors or times out.
var ErrUnavailable = errors.NewStd("vision model unavailable")

// Model is the narrow contract the semantic matcher depends on. The response
// is free text expected to contain one JSON object; parsing is the caller's
// concern.
type Model interface {
	Analyze(ctx context.Context, imageData []byte, prompt string) (string, error)
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imageURL struct {
	URL string `json:"url"`
}

type imageContent struct {
	Type     string   `json:"type"`
	ImageURL imageURL `json:"image_url"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content any `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client calls an OpenAI-compatible chat-completions endpoint with an inline
// base64 image.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewClient creates a vision model client. The timeout bounds the whole
// request including reading the response body.
func NewClient(endpoint, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

// encodeImageToBase64 converts image bytes to a base64 data URL.
func encodeImageToBase64(imageData []byte) string {
	return fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(imageData))
}

// Analyze sends the image and prompt to the model and returns the raw text
// content of the first choice.
func (c *Client) Analyze(ctx context.Context, imageData []byte, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []message{
			{
				Role: "user",
				Content: []any{
					imageContent{
						Type:     "image_url",
						ImageURL: imageURL{URL: encodeImageToBase64(imageData)},
					},
					textContent{Type: "text", Text: prompt},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.New(fmt.Errorf("%w: %w", ErrUnavailable, err)).
			Component("vision").
			Category(errors.CategoryVision).
			Build()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.New(fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)).
			Component("vision").
			Category(errors.CategoryVision).
			Build()
	}

	if resp.StatusCode != http.StatusOK {
		return "", errors.New(fmt.Errorf("%w: API error (status %d): %s", ErrUnavailable, resp.StatusCode, string(body))).
			Component("vision").
			Category(errors.CategoryVision).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrUnavailable)
	}

	content := chatResp.Choices[0].Message.Content
	if contentStr, ok := content.(string); ok {
		return contentStr, nil
	}

	// Some providers return structured content; flatten it back to JSON text.
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to marshal content: %w", err)
	}
	return string(contentJSON), nil
}
