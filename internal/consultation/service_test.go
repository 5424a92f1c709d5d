package consultation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"opd-copilot/internal/encounter"
	"opd-copilot/internal/pipeline"
)

type summaryFunc func(ctx context.Context, transcript string, record *encounter.Record) (encounter.SOAPNote, error)

func (f summaryFunc) GenerateSOAP(ctx context.Context, transcript string, record *encounter.Record) (encounter.SOAPNote, error) {
	return f(ctx, transcript, record)
}

type memoryRepo struct {
	mu    sync.Mutex
	saved map[uuid.UUID]Consultation
	err   error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{saved: map[uuid.UUID]Consultation{}}
}

func (m *memoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.saved[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memoryRepo) Save(ctx context.Context, c *Consultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved[c.ID] = *c
	return nil
}

type reportRecorder struct {
	mu   sync.Mutex
	sent []Consultation
}

func (r *reportRecorder) SendDoctorReport(ctx context.Context, c Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, c)
	return nil
}

func testFactory(summary pipeline.SummaryGenerator) OrchestratorFactory {
	return func(sink pipeline.Sink, logger zerolog.Logger) *pipeline.Orchestrator {
		return pipeline.New(pipeline.Deps{Summary: summary, Sink: sink}, pipeline.Options{
			Debounce:       time.Second,
			LiveTranscript: true,
			SampleRate:     16000,
			AudioMinChunk:  2 * time.Second,
			AudioOverlap:   500 * time.Millisecond,
			Logger:         logger,
		})
	}
}

func staticNote(note encounter.SOAPNote) summaryFunc {
	return func(context.Context, string, *encounter.Record) (encounter.SOAPNote, error) {
		return note, nil
	}
}

func TestEndSessionArchivesAndReports(t *testing.T) {
	repo := newMemoryRepo()
	reports := &reportRecorder{}
	note := encounter.SOAPNote{Subjective: "cough", Objective: "N/A", Assessment: "URTI", Plan: "rest"}
	svc := NewService(testFactory(staticNote(note)), repo, reports, zerolog.Nop())

	info, err := svc.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := svc.IngestText(context.Background(), info.ID, "dry cough for a week"); err != nil {
		t.Fatalf("IngestText: %v", err)
	}

	got, err := svc.EndSession(context.Background(), info.ID)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if got != note {
		t.Fatalf("note = %+v", got)
	}
	svc.Shutdown()

	archived, err := svc.GetConsultation(context.Background(), info.ID)
	if err != nil {
		t.Fatalf("GetConsultation: %v", err)
	}
	if archived.Transcript != "dry cough for a week" || archived.SOAPNote != note || archived.Record == nil {
		t.Fatalf("archived = %+v", archived)
	}
	if len(reports.sent) != 1 || reports.sent[0].ID != info.ID {
		t.Fatalf("reports = %+v", reports.sent)
	}
}

func TestEndSessionSurvivesArchiveFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.err = errors.New("db down")
	svc := NewService(testFactory(staticNote(encounter.SOAPNote{Plan: "x"})), repo, nil, zerolog.Nop())
	defer svc.Shutdown()

	info, _ := svc.CreateSession(context.Background())
	if _, err := svc.EndSession(context.Background(), info.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
}

func TestEndSessionFailureIsReturned(t *testing.T) {
	failing := summaryFunc(func(context.Context, string, *encounter.Record) (encounter.SOAPNote, error) {
		return encounter.SOAPNote{}, pipeline.ErrTransient
	})
	repo := newMemoryRepo()
	svc := NewService(testFactory(failing), repo, nil, zerolog.Nop())
	defer svc.Shutdown()

	info, _ := svc.CreateSession(context.Background())
	if _, err := svc.EndSession(context.Background(), info.ID); !errors.Is(err, pipeline.ErrTransient) {
		t.Fatalf("err = %v", err)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("failed session must not be archived")
	}
}

func TestUnknownSession(t *testing.T) {
	svc := NewService(testFactory(nil), nil, nil, zerolog.Nop())
	id := uuid.New()

	if _, err := svc.GetSession(id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("GetSession err = %v", err)
	}
	if err := svc.IngestText(context.Background(), id, "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("IngestText err = %v", err)
	}
	if err := svc.Reset(id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Reset err = %v", err)
	}
	if _, err := svc.GetConsultation(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetConsultation err = %v", err)
	}
}

func TestSubscribeReceivesEventsUntilClose(t *testing.T) {
	svc := NewService(testFactory(nil), nil, nil, zerolog.Nop())
	info, _ := svc.CreateSession(context.Background())

	events, cancel, err := svc.Subscribe(info.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := svc.IngestText(context.Background(), info.ID, "headache"); err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	e := <-events
	if e.Type != pipeline.EventTranscript {
		t.Fatalf("event = %+v", e)
	}

	if err := svc.Reset(info.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if e := <-events; e.Type != pipeline.EventSessionReset {
		t.Fatalf("event = %+v", e)
	}

	if err := svc.CloseSession(info.ID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if _, open := <-events; open {
		t.Fatalf("stream must close with the session")
	}
	if err := svc.CloseSession(info.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second close err = %v", err)
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := newHub(zerolog.Nop())
	slow, cancel := h.subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+1; i++ {
		h.Emit(pipeline.Event{Type: pipeline.EventStatus})
	}

	n := 0
	for range slow {
		n++
	}
	if n != subscriberBuffer {
		t.Fatalf("slow subscriber got %d events before drop", n)
	}
	if h.count() != 0 {
		t.Fatalf("subscribers left: %d", h.count())
	}
}
