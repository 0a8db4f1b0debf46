package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/fault"
)

const defaultAPIURL = "https://slack.com/api"

// Poster calls the Slack Web API with a bot token.
type Poster struct {
	token  string
	client *http.Client
	logger *slog.Logger
	apiURL string
}

func NewPoster(token string, logger *slog.Logger) *Poster {
	return &Poster{
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		apiURL: defaultAPIURL,
		logger: logger,
	}
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// PostMessage posts text to a channel, threaded under threadTS when set. It returns the message ts.
func (p *Poster) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	payload := map[string]any{
		"channel": channel,
		"text":    text,
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}

	var resp struct {
		apiResponse
		TS string `json:"ts"`
	}
	if err := p.callJSON(ctx, "chat.postMessage", payload, &resp); err != nil {
		return "", err
	}
	p.logger.Debug("posted to slack", "channel", channel, "ts", resp.TS)
	return resp.TS, nil
}

// UploadFile shares data in a channel using the external upload flow:
// reserve an upload URL, send the bytes, then complete the upload into the channel.
func (p *Poster) UploadFile(ctx context.Context, channel string, data []byte, filename, comment, threadTS string) error {
	var reserve struct {
		apiResponse
		UploadURL string `json:"upload_url"`
		FileID    string `json:"file_id"`
	}
	form := url.Values{}
	form.Set("filename", filename)
	form.Set("length", strconv.Itoa(len(data)))
	if err := p.callForm(ctx, "files.getUploadURLExternal", form, &reserve); err != nil {
		return err
	}

	if err := p.upload(ctx, reserve.UploadURL, data); err != nil {
		return err
	}

	complete := map[string]any{
		"files":      []map[string]string{{"id": reserve.FileID, "title": filename}},
		"channel_id": channel,
	}
	if comment != "" {
		complete["initial_comment"] = comment
	}
	if threadTS != "" {
		complete["thread_ts"] = threadTS
	}
	var done apiResponse
	if err := p.callJSON(ctx, "files.completeUploadExternal", complete, &done); err != nil {
		return err
	}
	p.logger.Debug("uploaded file to slack", "channel", channel, "file_id", reserve.FileID, "bytes", len(data))
	return nil
}

func (p *Poster) upload(ctx context.Context, uploadURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fault.Fatal("slack upload", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fault.Transient("slack upload", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fault.FromStatus("slack upload", resp.StatusCode, string(body))
	}
	return nil
}

func (p *Poster) callJSON(ctx context.Context, method string, payload any, out okResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fault.Fatal(method, fmt.Errorf("marshal slack payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fault.Fatal(method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return p.do(req, method, out)
}

func (p *Poster) callForm(ctx context.Context, method string, form url.Values, out okResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return fault.Fatal(method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req, method, out)
}

// okResponse is implemented by every response struct embedding apiResponse.
type okResponse interface {
	result() apiResponse
}

func (r apiResponse) result() apiResponse { return r }

func (p *Poster) do(req *http.Request, method string, out okResponse) error {
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fault.Transient(method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Transient(method, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return fault.RateLimited(method, time.Duration(wait)*time.Second, errors.New("rate limited"))
	}
	if resp.StatusCode != http.StatusOK {
		return fault.FromStatus(method, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fault.Fatal(method, fmt.Errorf("parse slack response: %w", err))
	}
	if r := out.result(); !r.OK {
		if r.Error == "ratelimited" || r.Error == "service_unavailable" || r.Error == "internal_error" {
			return fault.Transient(method, fmt.Errorf("slack error: %s", r.Error))
		}
		return fault.Fatal(method, fmt.Errorf("slack error: %s", r.Error))
	}
	return nil
}
