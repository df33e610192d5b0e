package whisper_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
)

// newMockServer answers POST /inference with responseText and records the
// parsed form.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32, form *http.Request) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if form != nil {
			*form = *r
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestTranscribe_UploadsForm(t *testing.T) {
	var calls atomic.Int32
	var form http.Request
	srv := newMockServer(t, " the quick brown fox", &calls, &form)

	p, err := whisper.New(srv.URL+"/", whisper.WithLanguage("en"), whisper.WithTemperature(0.2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), stt.Recording{Data: []byte("webm-bytes")})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != " the quick brown fox" {
		t.Errorf("text = %q", text)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	files := form.MultipartForm.File["file"]
	if len(files) != 1 {
		t.Fatalf("file parts = %d, want 1", len(files))
	}
	if files[0].Filename != "recording.webm" {
		t.Errorf("filename = %q, want recording.webm", files[0].Filename)
	}
	if ct := files[0].Header.Get("Content-Type"); ct != "audio/webm" {
		t.Errorf("content type = %q, want audio/webm", ct)
	}
	if got := form.FormValue("response_format"); got != "json" {
		t.Errorf("response_format = %q, want json", got)
	}
	if got := form.FormValue("language"); got != "en" {
		t.Errorf("language = %q, want en", got)
	}
	if got := form.FormValue("temperature"); got != "0.2" {
		t.Errorf("temperature = %q, want 0.2", got)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "failed to read audio", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), stt.Recording{Data: []byte("x")})
	if err == nil || !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("err = %v, want HTTP 500 error", err)
	}
}

func TestTranscribe_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "failed to convert audio"})
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Recording{Data: []byte("x")}); err == nil {
		t.Error("expected error when server reports one in the body")
	}
}

func TestTranscribe_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL, whisper.WithTimeout(50*time.Millisecond))
	if _, err := p.Transcribe(context.Background(), stt.Recording{Data: []byte("x")}); err == nil {
		t.Error("expected timeout error")
	}
}

func TestTranscribe_EmptyRecording(t *testing.T) {
	p, _ := whisper.New("http://127.0.0.1:1")
	if _, err := p.Transcribe(context.Background(), stt.Recording{}); err == nil {
		t.Error("expected error for empty recording")
	}
}
