package whisper

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hexlattice/cadence/pkg/provider/stt"
)

func TestNewRequiresServerURL(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("New with empty serverURL did not return an error")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotWAV []byte
	var gotLanguage, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("model")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
		} else {
			gotWAV, _ = io.ReadAll(file)
			file.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"  hello there world \n"}`)
	}))
	defer srv.Close()

	tr, err := New(srv.URL, WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// One second of silence at 16 kHz mono.
	pcm := make([]byte, 32000)
	got, err := tr.Transcribe(context.Background(), pcm, stt.AudioConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "de",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if got.Text != "hello there world" {
		t.Errorf("Text = %q, want trimmed %q", got.Text, "hello there world")
	}
	if got.WordCount != 3 {
		t.Errorf("WordCount = %d, want 3", got.WordCount)
	}
	if got.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", got.Duration)
	}
	if gotLanguage != "de" {
		t.Errorf("language field = %q, want de", gotLanguage)
	}
	if gotModel != "base.en" {
		t.Errorf("model field = %q, want base.en", gotModel)
	}

	// The upload must be a valid RIFF/WAV wrapper around the PCM.
	if len(gotWAV) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(gotWAV), 44+len(pcm))
	}
	if string(gotWAV[0:4]) != "RIFF" || string(gotWAV[8:12]) != "WAVE" {
		t.Error("upload is not a RIFF/WAVE container")
	}
	if sr := binary.LittleEndian.Uint32(gotWAV[24:28]); sr != 16000 {
		t.Errorf("wav sample rate = %d, want 16000", sr)
	}
	if size := binary.LittleEndian.Uint32(gotWAV[40:44]); int(size) != len(pcm) {
		t.Errorf("wav data size = %d, want %d", size, len(pcm))
	}
}

func TestTranscribeServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), make([]byte, 960), stt.AudioConfig{SampleRate: 16000}); err == nil {
		t.Fatal("Transcribe did not surface the HTTP 500")
	}
}

func TestTranscribeContextCancelled(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	tr, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := tr.Transcribe(ctx, make([]byte, 960), stt.AudioConfig{SampleRate: 16000}); err == nil {
		t.Fatal("Transcribe did not return after context deadline")
	}
}
