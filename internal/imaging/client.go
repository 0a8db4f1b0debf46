package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/herald/internal/fault"
)

const defaultBaseURL = "http://127.0.0.1:8188"

// ErrPollTimeout is wrapped in a transient fault when a job does not finish in time.
var ErrPollTimeout = errors.New("image job did not finish before the poll timeout")

// Client talks to a ComfyUI server.
type Client struct {
	baseURL  string
	clientID string
	client   *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: uuid.New().String(),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit queues a workflow and returns its prompt id.
func (c *Client) Submit(ctx context.Context, workflow map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":    workflow,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fault.Fatal("comfyui submit", fmt.Errorf("marshal workflow: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fault.Fatal("comfyui submit", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req, "comfyui submit")
	if err != nil {
		return "", err
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fault.Fatal("comfyui submit", fmt.Errorf("parse response: %w", err))
	}
	if result.PromptID == "" {
		return "", fault.Fatal("comfyui submit", fmt.Errorf("response without prompt_id: %s", truncate(string(respBody), 256)))
	}
	return result.PromptID, nil
}

// Output identifies a finished image on the ComfyUI server.
type Output struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []Output `json:"images"`
	} `json:"outputs"`
}

// Poll checks the history of promptID every interval until outputNode has produced an image.
// It gives up after timeout with a transient error.
func (c *Client) Poll(ctx context.Context, promptID, outputNode string, interval, timeout time.Duration) (Output, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		img, done, err := c.history(pollCtx, promptID, outputNode)
		if err != nil {
			if ctx.Err() == nil && pollCtx.Err() != nil {
				return Output{}, fault.Transient("comfyui poll", ErrPollTimeout)
			}
			return Output{}, err
		}
		if done {
			return img, nil
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return Output{}, ctx.Err()
			}
			return Output{}, fault.Transient("comfyui poll", ErrPollTimeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) history(ctx context.Context, promptID, outputNode string) (Output, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return Output{}, false, fault.Fatal("comfyui history", err)
	}
	respBody, err := c.do(req, "comfyui history")
	if err != nil {
		return Output{}, false, err
	}

	var history map[string]historyEntry
	if err := json.Unmarshal(respBody, &history); err != nil {
		return Output{}, false, fault.Fatal("comfyui history", fmt.Errorf("parse response: %w", err))
	}
	entry, ok := history[promptID]
	if !ok {
		return Output{}, false, nil
	}
	out, ok := entry.Outputs[outputNode]
	if !ok || len(out.Images) == 0 || out.Images[0].Filename == "" {
		return Output{}, false, nil
	}
	return out.Images[0], true, nil
}

// Fetch downloads a finished image.
func (c *Client) Fetch(ctx context.Context, img Output) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", img.Filename)
	if img.Subfolder != "" {
		q.Set("subfolder", img.Subfolder)
	}
	typ := img.Type
	if typ == "" {
		typ = "temp"
	}
	q.Set("type", typ)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, fault.Fatal("comfyui view", err)
	}
	data, err := c.do(req, "comfyui view")
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fault.Transient("comfyui view", errors.New("empty image body"))
	}
	return data, nil
}

// do executes req and classifies transport and status failures.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fault.Transient(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Transient(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.FromStatus(op, resp.StatusCode, string(body))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
