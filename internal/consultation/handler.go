package consultation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"opd-copilot/internal/pipeline"
)

const (
	maxAudioBytes = 10 << 20
	keepAlive     = 15 * time.Second
)

type Handler struct {
	svc Service
	log zerolog.Logger
}

func NewHandler(svc Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: logger}
}

type TranscriptRequest struct {
	Text string `json:"text"`
}

type ControlRequest struct {
	Action string `json:"action"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, pipeline.ErrClosed):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, pipeline.ErrTransient):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, pipeline.ErrFatal):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		h.log.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	info, err := h.svc.GetSession(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := h.svc.CloseSession(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StreamEvents streams the session's events as Server-Sent Events, starting
// with the current encounter state.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	info, err := h.svc.GetSession(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	events, cancel, err := h.svc.Subscribe(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(e pipeline.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(pipeline.Event{Type: pipeline.EventEncounterState, Data: info.EncounterState}); err != nil {
		return
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-events:
			if !open {
				return
			}
			if err := send(e); err != nil {
				h.log.Debug().Err(err).Str("session_id", id.String()).Msg("event stream write failed")
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// IngestAudio accepts a raw PCM16 little-endian mono body.
func (h *Handler) IngestAudio(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	pcm, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBytes))
	if err != nil {
		http.Error(w, "Failed to read audio", http.StatusRequestEntityTooLarge)
		return
	}
	if len(pcm) == 0 {
		http.Error(w, "Empty audio body", http.StatusBadRequest)
		return
	}
	if err := h.svc.IngestAudio(r.Context(), id, pcm); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) IngestTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req TranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.svc.IngestText(r.Context(), id, req.Text); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Control handles the session actions "reset" and "end_session".
func (h *Handler) Control(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "reset":
		if err := h.svc.Reset(id); err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pipeline.NewResetPayload())
	case "end_session":
		note, err := h.svc.EndSession(r.Context(), id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
	default:
		http.Error(w, fmt.Sprintf("Unknown action %q", req.Action), http.StatusBadRequest)
	}
}

func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.GetConsultation(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.CloseSession)
			r.Get("/events", h.StreamEvents)
			r.Post("/audio", h.IngestAudio)
			r.Post("/transcript", h.IngestTranscript)
			r.Post("/control", h.Control)
		})
	})
	r.Get("/consultations/{id}", h.GetConsultation)
}
