package agent

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"opd-copilot/internal/pipeline"
)

type TranscriberConfig struct {
	URL        string
	Timeout    time.Duration
	SampleRate int
}

// Transcriber sends PCM16 chunks, wrapped as mono WAV, to the speech
// recognition service.
type Transcriber struct {
	url        string
	sampleRate int
	httpClient *http.Client
	log        zerolog.Logger
}

func NewTranscriber(cfg TranscriberConfig, logger zerolog.Logger) *Transcriber {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Transcriber{
		url:        cfg.URL,
		sampleRate: cfg.SampleRate,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.With().Str("component", "asr").Logger(),
	}
}

type sttResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe returns the recognised text for one chunk. An unreachable or
// still-loading service yields pipeline.ErrTranscriberUnavailable.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if t.url == "" {
		return "", pipeline.ErrTranscriberUnavailable
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(encodeWAV(pcm, t.sampleRate)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, body)
	if err != nil {
		return "", fmt.Errorf("%w: build asr request: %w", pipeline.ErrFatal, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := fmt.Errorf("asr returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
		switch {
		case resp.StatusCode == http.StatusServiceUnavailable:
			return "", fmt.Errorf("%w: %w", pipeline.ErrTranscriberUnavailable, detail)
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			return "", fmt.Errorf("%w: %w", pipeline.ErrTransient, detail)
		default:
			return "", fmt.Errorf("%w: %w", pipeline.ErrFatal, detail)
		}
	}

	var result sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode asr response: %w", pipeline.ErrFatal, err)
	}
	t.log.Debug().Int("bytes", len(pcm)).Dur("elapsed", time.Since(start)).Msg("chunk transcribed")
	return strings.TrimSpace(result.Text), nil
}

func classifyTransport(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %w", pipeline.ErrTranscriberUnavailable, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", pipeline.ErrTransient, err)
	}
	return fmt.Errorf("%w: %w", pipeline.ErrFatal, err)
}

// encodeWAV prefixes little-endian PCM16 mono samples with a RIFF header.
func encodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
