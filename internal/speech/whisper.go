package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/fault"
)

// WhisperClient calls a whisper.cpp server (started with --convert so it accepts Ogg/Opus).
type WhisperClient struct {
	baseURL   string
	language  string
	translate bool
	client    *http.Client
}

func NewWhisperClient(baseURL, language string, translate bool) *WhisperClient {
	if language == "" {
		language = "auto"
	}
	return &WhisperClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		language:  language,
		translate: translate,
		client:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	format, err := Format(audio)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio."+format)
	if err != nil {
		return "", fault.Fatal("whisper inference", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fault.Fatal("whisper inference", err)
	}
	fields := map[string]string{
		"response_format": "json",
		"language":        c.language,
		"translate":       strconv.FormatBool(c.translate),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fault.Fatal("whisper inference", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fault.Fatal("whisper inference", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inference", &body)
	if err != nil {
		return "", fault.Fatal("whisper inference", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fault.Transient("whisper inference", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Transient("whisper inference", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fault.FromStatus("whisper inference", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fault.Fatal("whisper inference", fmt.Errorf("parse response: %w", err))
	}
	if result.Error != "" {
		return "", fault.Fatal("whisper inference", fmt.Errorf("server error: %s", result.Error))
	}
	return strings.TrimSpace(result.Text), nil
}
