package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStream_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("expected /api/chat, got %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %q", r.Header.Get("Content-Type"))
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req["model"] != "gemma2:latest" {
			t.Errorf("expected model gemma2:latest, got %v", req["model"])
		}
		if req["stream"] != true {
			t.Errorf("expected stream true, got %v", req["stream"])
		}
		if ka, ok := req["keep_alive"]; !ok || ka != float64(0) {
			t.Errorf("expected keep_alive 0, got %v (present=%v)", ka, ok)
		}
		opts := req["options"].(map[string]any)
		if opts["num_ctx"] != float64(4096) {
			t.Errorf("expected num_ctx 4096, got %v", opts["num_ctx"])
		}
		if opts["temperature"] != 0.5 {
			t.Errorf("expected temperature 0.5, got %v", opts["temperature"])
		}
		msgs := req["messages"].([]any)
		if len(msgs) != 2 {
			t.Errorf("expected 2 messages, got %d", len(msgs))
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, part := range []string{`{"te`, `xt":`, `"hi"}`} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, "gemma2:latest", WithKeepAlive(0), WithNumCtx(4096))

	var deltas []string
	err := c.Stream(context.Background(), []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hello"},
	}, 0.5, func(s string) { deltas = append(deltas, s) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) != 3 {
		t.Errorf("expected 3 deltas, got %d", len(deltas))
	}
	if got := strings.Join(deltas, ""); got != `{"text":"hi"}` {
		t.Errorf("unexpected accumulated text %q", got)
	}
}

func TestStream_OmitsKeepAliveWhenUnset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if _, ok := req["keep_alive"]; ok {
			t.Errorf("expected keep_alive to be omitted")
		}
		fmt.Fprintln(w, `{"message":{"content":"ok"},"done":true}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, "m")
	got, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
}

func TestStream_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "model 'nope' not found"})
	}))
	defer server.Close()

	c := NewClient(server.URL, "nope")
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.8)
	if err == nil {
		t.Fatal("expected error for API error response")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected api error message, got %v", err)
	}
}

func TestStream_MidStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"par"},"done":false}`)
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, "m")
	if _, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.8); err == nil {
		t.Fatal("expected error for mid-stream failure")
	}
}

func TestStream_TruncatedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"par"},"done":false}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, "m")
	if _, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.8); err == nil {
		t.Fatal("expected error when the stream ends without done")
	}
}
