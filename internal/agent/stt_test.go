package agent

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"opd-copilot/internal/pipeline"
)

func TestTranscribeSendsWAV(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		if header.Filename != "chunk.wav" {
			t.Errorf("filename = %q", header.Filename)
		}
		if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
			t.Errorf("not a wav header: %q", data[:44])
		}
		if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 8000 {
			t.Errorf("sample rate = %d", rate)
		}
		if size := binary.LittleEndian.Uint32(data[40:44]); int(size) != len(pcm) {
			t.Errorf("data size = %d", size)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  chest pain since morning ","language":"en"}`))
	}))
	defer srv.Close()

	tr := NewTranscriber(TranscriberConfig{URL: srv.URL, Timeout: time.Second, SampleRate: 8000}, zerolog.Nop())
	text, err := tr.Transcribe(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "chest pain since morning" {
		t.Fatalf("text = %q", text)
	}
}

func TestTranscribeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"loading", http.StatusServiceUnavailable, pipeline.ErrTranscriberUnavailable},
		{"overloaded", http.StatusInternalServerError, pipeline.ErrTransient},
		{"bad request", http.StatusBadRequest, pipeline.ErrFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "no", tt.status)
			}))
			defer srv.Close()

			tr := NewTranscriber(TranscriberConfig{URL: srv.URL, Timeout: time.Second}, zerolog.Nop())
			_, err := tr.Transcribe(context.Background(), []byte{0, 0})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTranscribeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := NewTranscriber(TranscriberConfig{URL: url, Timeout: time.Second}, zerolog.Nop())
	_, err := tr.Transcribe(context.Background(), []byte{0, 0})
	if !errors.Is(err, pipeline.ErrTranscriberUnavailable) {
		t.Fatalf("err = %v", err)
	}

	unset := NewTranscriber(TranscriberConfig{}, zerolog.Nop())
	if _, err := unset.Transcribe(context.Background(), []byte{0, 0}); !errors.Is(err, pipeline.ErrTranscriberUnavailable) {
		t.Fatalf("unconfigured err = %v", err)
	}
}

func TestTranscribeEmptyChunk(t *testing.T) {
	tr := NewTranscriber(TranscriberConfig{}, zerolog.Nop())
	text, err := tr.Transcribe(context.Background(), nil)
	if err != nil || text != "" {
		t.Fatalf("text=%q err=%v", text, err)
	}
}
