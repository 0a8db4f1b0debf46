package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/fault"
)

const defaultAPIURL = "https://api.telegram.org"

// Client is a minimal Bot API client covering what the bot sends and receives.
type Client struct {
	token  string
	apiURL string
	client *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		token:  token,
		apiURL: defaultAPIURL,
		// Long polls hold the connection for up to the poll timeout.
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

// SetAPIURL points the client at another Bot API server.
func (c *Client) SetAPIURL(u string) {
	c.apiURL = strings.TrimRight(u, "/")
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

func (c *Client) methodURL(method string) string {
	return c.apiURL + "/bot" + c.token + "/" + method
}

// call posts params as JSON and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fault.Fatal(method, fmt.Errorf("marshal params: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return fault.Fatal(method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		// The URL embeds the bot token; keep it out of logs.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fault.Transient(method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Transient(method, fmt.Errorf("read response: %w", err))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fault.FromStatus(method, resp.StatusCode, string(data))
		}
		return fault.Fatal(method, fmt.Errorf("parse response: %w", err))
	}
	if !env.OK {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			return fault.RateLimited(method, time.Duration(env.Parameters.RetryAfter)*time.Second, errors.New(env.Description))
		}
		return fault.FromStatus(method, code, env.Description)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fault.Fatal(method, fmt.Errorf("decode result: %w", err))
		}
	}
	return nil
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "getMe", struct{}{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUpdates long-polls for new updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset, timeoutSeconds int) ([]Update, error) {
	var updates []Update
	params := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message"},
	}
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// replyParameters quotes replyTo. A missing original does not fail the send.
func replyParameters(replyTo string) (map[string]any, bool) {
	id, err := strconv.Atoi(replyTo)
	if err != nil {
		return nil, false
	}
	return map[string]any{
		"message_id":                  id,
		"allow_sending_without_reply": true,
	}, true
}

func (c *Client) SendMessage(ctx context.Context, chatID, text, replyTo string) (*Message, error) {
	params := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if rp, ok := replyParameters(replyTo); ok {
		params["reply_parameters"] = rp
	}

	var m Message
	if err := c.call(ctx, "sendMessage", params, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SendPhoto uploads image as a new photo.
func (c *Client) SendPhoto(ctx context.Context, chatID string, image []byte, caption, replyTo string) (*Message, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{"chat_id": chatID}
	if caption != "" {
		fields["caption"] = caption
	}
	if rp, ok := replyParameters(replyTo); ok {
		data, _ := json.Marshal(rp)
		fields["reply_parameters"] = string(data)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fault.Fatal("sendPhoto", err)
		}
	}
	part, err := mw.CreateFormFile("photo", "image.png")
	if err != nil {
		return nil, fault.Fatal("sendPhoto", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fault.Fatal("sendPhoto", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fault.Fatal("sendPhoto", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendPhoto"), &body)
	if err != nil {
		return nil, fault.Fatal("sendPhoto", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var m Message
	if err := c.do(req, "sendPhoto", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SendChatAction shows a status such as "typing" or "upload_photo" for a few seconds.
func (c *Client) SendChatAction(ctx context.Context, chatID, action string) error {
	return c.call(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": action}, nil)
}

func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, fault.Fatal("getFile", errors.New("file has no download path"))
	}
	return &f, nil
}

// Download fetches a file previously resolved with GetFile.
func (c *Client) Download(ctx context.Context, filePath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/file/bot"+c.token+"/"+filePath, nil)
	if err != nil {
		return nil, fault.Fatal("download", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fault.Transient("download", errors.New("file download failed"))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Transient("download", fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.FromStatus("download", resp.StatusCode, string(data))
	}
	return data, nil
}
