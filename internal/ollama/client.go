package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "http://127.0.0.1:11434"

type Client struct {
	baseURL   string
	model     string
	numCtx    int
	keepAlive *int
	client    *http.Client
}

type Option func(*Client)

// WithKeepAlive sets the keep_alive sent with every request, in seconds. 0 unloads the model after each call.
func WithKeepAlive(seconds int) Option {
	return func(c *Client) { c.keepAlive = &seconds }
}

// WithNumCtx sets the context window requested from the model.
func WithNumCtx(n int) Option {
	return func(c *Client) { c.numCtx = n }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func NewClient(baseURL, model string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Model() string { return c.model }

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type options struct {
	NumCtx      int     `json:"num_ctx,omitempty"`
	Temperature float64 `json:"temperature"`
}

type request struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	Options   options   `json:"options"`
	KeepAlive *int      `json:"keep_alive,omitempty"`
}

type chunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Stream sends the conversation to /api/chat and calls onDelta for every streamed fragment, in order.
// It returns once the model reports done, the stream ends, or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, messages []Message, temperature float64, onDelta func(string)) error {
	body, err := json.Marshal(request{
		Model:     c.model,
		Messages:  messages,
		Stream:    true,
		Options:   options{NumCtx: c.numCtx, Temperature: temperature},
		KeepAlive: c.keepAlive,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("api error %d: %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ch chunk
		if err := json.Unmarshal(line, &ch); err != nil {
			return fmt.Errorf("parse stream chunk: %w", err)
		}
		if ch.Error != "" {
			return fmt.Errorf("stream error: %s", ch.Error)
		}
		if ch.Message.Content != "" && onDelta != nil {
			onDelta(ch.Message.Content)
		}
		if ch.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return errors.New("stream ended before done")
}

// Complete is Stream with the fragments accumulated into one string.
func (c *Client) Complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	var sb strings.Builder
	if err := c.Stream(ctx, messages, temperature, func(s string) { sb.WriteString(s) }); err != nil {
		return "", err
	}
	return sb.String(), nil
}
