package imaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/fault"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeComfy is a minimal ComfyUI: /prompt, /history/{id}, /view.
type fakeComfy struct {
	mu           sync.Mutex
	submitStatus []int // status per submit call; 200 once exhausted
	pendingPolls int   // history calls answered with {} before the job is done
	neverDone    bool
	submits      int
	polls        int
	lastBody     map[string]any
	lastView     string
}

func (f *fakeComfy) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.submits++
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode submit body: %v", err)
		}
		f.lastBody = body
		if len(f.submitStatus) > 0 {
			status := f.submitStatus[0]
			f.submitStatus = f.submitStatus[1:]
			if status != http.StatusOK {
				http.Error(w, "backend busy", status)
				return
			}
		}
		fmt.Fprintf(w, `{"prompt_id":"job-%d","number":1,"node_errors":{}}`, f.submits)
	})
	mux.HandleFunc("GET /history/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		if f.neverDone || f.polls <= f.pendingPolls {
			fmt.Fprint(w, `{}`)
			return
		}
		id := r.PathValue("id")
		fmt.Fprintf(w, `{%q:{"outputs":{"26":{"images":[{"filename":"herald_0001.png","subfolder":"","type":"temp"}]}}}}`, id)
	})
	mux.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastView = r.URL.RawQuery
		f.mu.Unlock()
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG-fake"))
	})
	return mux
}

func (f *fakeComfy) counts() (submits, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.polls
}

func (f *fakeComfy) last() (map[string]any, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody, f.lastView
}

func newTestDispatcher(t *testing.T, f *fakeComfy, mutate func(*Settings)) *Dispatcher {
	t.Helper()
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)

	settings := Settings{
		WorkflowPath: writeWorkflow(t),
		Fields:       defaultFields(),
		Width:        1200,
		Height:       800,
		Steps:        6,
		Attempts:     2,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  time.Second,
	}
	if mutate != nil {
		mutate(&settings)
	}
	d := NewDispatcher(NewClient(server.URL), settings, discardLogger())
	d.seed = func() int64 { return 4242 }
	return d
}

func TestGenerate_Success(t *testing.T) {
	f := &fakeComfy{pendingPolls: 2}
	d := newTestDispatcher(t, f, nil)

	img, err := d.Generate(context.Background(), "a lighthouse at dusk", "portrait")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(img) != "\x89PNG-fake" {
		t.Errorf("unexpected image bytes %q", img)
	}
	submits, polls := f.counts()
	if submits != 1 {
		t.Errorf("expected 1 submit, got %d", submits)
	}
	if polls != 3 {
		t.Errorf("expected 3 polls, got %d", polls)
	}
	body, view := f.last()
	if !strings.Contains(view, "filename=herald_0001.png") || !strings.Contains(view, "type=temp") {
		t.Errorf("unexpected view query %q", view)
	}

	if id, _ := body["client_id"].(string); id == "" {
		t.Error("expected client_id in submit body")
	}
	wf := body["prompt"].(map[string]any)
	latent := wf["5"].(map[string]any)["inputs"].(map[string]any)
	if latent["width"] != float64(800) || latent["height"] != float64(1200) {
		t.Errorf("expected portrait 800x1200, got %vx%v", latent["width"], latent["height"])
	}
	noise := wf["25"].(map[string]any)["inputs"].(map[string]any)
	if noise["noise_seed"] != float64(4242) {
		t.Errorf("expected seed 4242, got %v", noise["noise_seed"])
	}
	text := wf["6"].(map[string]any)["inputs"].(map[string]any)["text"]
	if text != "a lighthouse at dusk" {
		t.Errorf("unexpected positive prompt %v", text)
	}
}

func TestGenerate_UnsetOrientationUsesDefaults(t *testing.T) {
	f := &fakeComfy{}
	d := newTestDispatcher(t, f, nil)

	if _, err := d.Generate(context.Background(), "a cat", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := f.last()
	latent := body["prompt"].(map[string]any)["5"].(map[string]any)["inputs"].(map[string]any)
	if latent["width"] != float64(1200) || latent["height"] != float64(800) {
		t.Errorf("expected 1200x800, got %vx%v", latent["width"], latent["height"])
	}
}

func TestGenerate_PollTimeoutIsTransientAndRetried(t *testing.T) {
	f := &fakeComfy{neverDone: true}
	d := newTestDispatcher(t, f, func(s *Settings) {
		s.PollTimeout = 40 * time.Millisecond
	})

	_, err := d.Generate(context.Background(), "a cat", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrPollTimeout) {
		t.Errorf("expected ErrPollTimeout, got %v", err)
	}
	if !fault.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
	if submits, _ := f.counts(); submits != 2 {
		t.Errorf("expected 2 attempts, got %d", submits)
	}
}

func TestGenerate_ServerErrorRetried(t *testing.T) {
	f := &fakeComfy{submitStatus: []int{http.StatusServiceUnavailable}}
	d := newTestDispatcher(t, f, nil)

	if _, err := d.Generate(context.Background(), "a cat", ""); err != nil {
		t.Fatalf("expected success on second attempt, got %v", err)
	}
	if submits, _ := f.counts(); submits != 2 {
		t.Errorf("expected 2 submits, got %d", submits)
	}
}

func TestGenerate_FatalNotRetried(t *testing.T) {
	f := &fakeComfy{submitStatus: []int{http.StatusBadRequest}}
	d := newTestDispatcher(t, f, nil)

	_, err := d.Generate(context.Background(), "a cat", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if fault.IsTransient(err) {
		t.Errorf("expected fatal error, got %v", err)
	}
	if submits, _ := f.counts(); submits != 1 {
		t.Errorf("expected 1 submit, got %d", submits)
	}
}

func TestGenerate_MissingTemplate(t *testing.T) {
	f := &fakeComfy{}
	d := newTestDispatcher(t, f, func(s *Settings) {
		s.WorkflowPath = filepath.Join(t.TempDir(), "gone.json")
	})

	if _, err := d.Generate(context.Background(), "a cat", ""); err == nil {
		t.Fatal("expected error for missing template")
	}
	if submits, _ := f.counts(); submits != 0 {
		t.Errorf("expected no submit, got %d", submits)
	}
}

func TestGenerate_Cancelled(t *testing.T) {
	f := &fakeComfy{neverDone: true}
	d := newTestDispatcher(t, f, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := d.Generate(ctx, "a cat", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected caller deadline to surface, got %v", err)
	}
	if submits, _ := f.counts(); submits != 1 {
		t.Errorf("expected no retry after cancellation, got %d submits", submits)
	}
}
