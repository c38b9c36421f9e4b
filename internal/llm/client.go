// Package llm is the text-generation collaborator: an OpenAI-compatible
// chat-completions client supporting plain completions (optionally with a
// binary attachment) and schema-constrained structured output.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidResponse is returned when the upstream model answers with an
// empty or undecodable body. Callers treat it as a soft failure or let it
// classify the job, per component.
var ErrInvalidResponse = errors.New("invalid response from model")

const defaultMaxOutputTokens = 4096

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		maxTokens: defaultMaxOutputTokens,
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

// WithMaxOutputTokens returns a client with a different output cap, sharing
// the underlying HTTP client. n <= 0 removes the cap so the provider
// maximum applies; whole-document formatting needs that, while the default
// cap is plenty for summaries and concept extraction.
func (c *Client) WithMaxOutputTokens(n int) *Client {
	derived := *c
	if n < 0 {
		n = 0
	}
	derived.maxTokens = n
	return &derived
}

// Attachment is a binary payload (PDF page render, image) sent alongside a
// prompt as a data URL.
type Attachment struct {
	MIME string
	Data []byte
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imagePart struct {
	Type     string   `json:"type"`
	ImageURL imageURL `json:"image_url"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one unconstrained-text completion and returns the plain
// text answer. Attachments are inlined as data URLs.
func (c *Client) Complete(ctx context.Context, prompt string, attachments ...Attachment) (string, error) {
	var content any = prompt
	if len(attachments) > 0 {
		parts := []any{textPart{Type: "text", Text: prompt}}
		for _, a := range attachments {
			encoded := base64.StdEncoding.EncodeToString(a.Data)
			parts = append(parts, imagePart{
				Type:     "image_url",
				ImageURL: imageURL{URL: fmt.Sprintf("data:%s;base64,%s", a.MIME, encoded)},
			})
		}
		content = parts
	}

	req := chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: content}},
		MaxTokens: c.maxTokens,
	}
	return c.send(ctx, req)
}

// CompleteWithSchema sends a schema-constrained completion and decodes the
// JSON answer into out.
func (c *Client) CompleteWithSchema(ctx context.Context, prompt string, schema json.RawMessage, out any) error {
	req := chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.maxTokens,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   "response",
				Strict: true,
				Schema: schema,
			},
		},
	}
	text, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	text = stripCodeBlock(text)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: decode structured output: %v (raw: %s)", ErrInvalidResponse, err, truncate(text, 200))
	}
	return nil
}

// send retries transient failures with jittered exponential backoff;
// anything non-retryable surfaces immediately.
func (c *Client) send(ctx context.Context, req chatRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(Backoff(attempt - 1)):
			}
		}
		text, err := c.sendOnce(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) sendOnce(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &RetryableError{Err: fmt.Errorf("model api: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("model api quota exceeded: %s", truncate(string(respBody), 200))
	}
	if resp.StatusCode >= 500 {
		return "", &RetryableError{Err: fmt.Errorf("model api status %d: %s", resp.StatusCode, truncate(string(respBody), 200))}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model api status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("%w: decode body: %v", ErrInvalidResponse, err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("model error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 || strings.TrimSpace(apiResp.Choices[0].Message.Content) == "" {
		return "", ErrInvalidResponse
	}
	return apiResp.Choices[0].Message.Content, nil
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
