package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"voicenotes/internal/store"
)

const (
	defaultTimeout = 2 * time.Minute

	// titleRunes is the length of the derived title: the opening slice of the
	// generated content.
	titleRunes = 5

	titlePrompt = "Summarize the following content in 5 characters: "
)

// Fixed annotation written when the endpoint answers with something other
// than the expected JSON body, so readers are never stuck on the
// "generating..." placeholders.
var FailedAnnotation = store.Annotation{
	Title:   "error",
	Summary: "summary unavailable - unexpected response",
}

// ErrMalformedResponse means the response was JSON but the expected
// choices/message/content path was missing or empty.
var ErrMalformedResponse = errors.New("malformed completion response")

// ErrUnexpectedContentType means the endpoint answered 2xx with a non-JSON
// body (typically an HTML interstitial page).
var ErrUnexpectedContentType = errors.New("unexpected response content type")

// RequestError reports a transport failure or non-2xx status.
type RequestError struct {
	Code int
	Err  error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("completion request failed: %v", e.Err)
	}
	return fmt.Sprintf("completion request failed: status %d", e.Code)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Client talks to a chat-completions style text-generation endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient configures a client for the endpoint rooted at baseURL.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a single user message and returns the generated content.
// Shared by the ingestion pipeline and the interactive assistant.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	payload := completionRequest{
		Model:    c.model,
		Messages: []message{{Role: "user", Content: prompt}},
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", buf)
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RequestError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &RequestError{Code: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return "", fmt.Errorf("%w: %s", ErrUnexpectedContentType, contentType)
	}

	var response completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	content := response.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}
	return content, nil
}

// Summarize asks the endpoint for a short characterization of the transcript
// and derives the annotation from it: the full content is the summary, its
// opening runes are the title.
func (c *Client) Summarize(ctx context.Context, text string) (store.Annotation, error) {
	content, err := c.Complete(ctx, titlePrompt+text)
	if err != nil {
		return store.Annotation{}, err
	}

	content = strings.TrimSpace(content)
	return store.Annotation{
		Title:   titleFrom(content),
		Summary: content,
	}, nil
}

func titleFrom(content string) string {
	runes := []rune(content)
	if len(runes) <= titleRunes {
		return content
	}
	return string(runes[:titleRunes])
}
