// Package vlmclient is a thin HTTP client for the external vision-language
// model endpoint (§6.3), grounded on the teacher's WebhookHook pattern:
// an http.Client with an explicit Timeout, http.NewRequestWithContext,
// JSON marshal/unmarshal, a 2xx status check, and %w-wrapped errors.
package vlmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one turn of the conversation tail attached to a request, per
// §6.3's optional conversation_tail field.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request is the JSON body POSTed to the VLM endpoint.
type Request struct {
	ImageBase64     string    `json:"image"`
	Prompt          string    `json:"prompt"`
	System          string    `json:"system"`
	ConversationTail []Message `json:"conversation_tail,omitempty"`
}

// Result is the parsed outcome of a VLM call. Response and Answer are taken
// from whichever of those JSON fields the model returned (normally one,
// depending on the prompt template); both are empty when the body does not
// parse as JSON, and Raw always holds the body text.
type Result struct {
	Response string // routine-task summary
	Answer   string // user-question answer
	Raw      string // full, unparsed response body text
}

// Client calls the VLM analysis endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// New constructs a Client. timeout<=0 disables the client-side timeout
// (relies solely on ctx).
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Analyze POSTs req to the VLM endpoint and parses the response.
func (c *Client) Analyze(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("vlmclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vlmclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("vlmclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vlmclient: server returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vlmclient: read response: %w", err)
	}

	return parseResult(raw), nil
}

// parseResult best-effort-parses a possibly ```json-fenced response body
// for a "response" or "answer" field, per §6.3. A body that isn't valid
// JSON (fenced or not) is returned verbatim in Raw with both fields empty;
// this is not treated as an error, since the VLM's prose is still useful to
// a human reading the persisted result file.
func parseResult(raw []byte) *Result {
	text := strings.TrimSpace(string(raw))
	stripped := stripJSONFence(text)

	var parsed struct {
		Response string `json:"response"`
		Answer   string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(stripped), &parsed); err == nil {
		return &Result{Response: parsed.Response, Answer: parsed.Answer, Raw: text}
	}
	return &Result{Raw: text}
}

func stripJSONFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
