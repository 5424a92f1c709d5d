package consultation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"opd-copilot/internal/encounter"
	"opd-copilot/internal/pipeline"
	"opd-copilot/internal/platform/observability"
)

var ErrSessionNotFound = errors.New("session not found")

const reportTimeout = 2 * time.Minute

// ReportService delivers the end-of-encounter report to the doctor.
type ReportService interface {
	SendDoctorReport(ctx context.Context, c Consultation) error
}

// OrchestratorFactory builds the pipeline for a new session, publishing its
// events to sink.
type OrchestratorFactory func(sink pipeline.Sink, logger zerolog.Logger) *pipeline.Orchestrator

type Service interface {
	CreateSession(ctx context.Context) (*SessionInfo, error)
	GetSession(id uuid.UUID) (*SessionInfo, error)
	Subscribe(id uuid.UUID) (<-chan pipeline.Event, func(), error)
	IngestText(ctx context.Context, id uuid.UUID, text string) error
	IngestAudio(ctx context.Context, id uuid.UUID, pcm []byte) error
	Reset(id uuid.UUID) error
	EndSession(ctx context.Context, id uuid.UUID) (encounter.SOAPNote, error)
	CloseSession(id uuid.UUID) error
	GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error)
	Shutdown()
}

type session struct {
	id        uuid.UUID
	createdAt time.Time
	orch      *pipeline.Orchestrator
	hub       *hub
}

type service struct {
	newOrchestrator OrchestratorFactory
	repo            Repository
	reportSvc       ReportService
	log             zerolog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session

	background sync.WaitGroup
}

// NewService wires the session registry. repo and report may be nil, in
// which case ended sessions are neither archived nor reported.
func NewService(factory OrchestratorFactory, repo Repository, report ReportService, logger zerolog.Logger) Service {
	return &service{
		newOrchestrator: factory,
		repo:            repo,
		reportSvc:       report,
		log:             logger.With().Str("component", "sessions").Logger(),
		sessions:        map[uuid.UUID]*session{},
	}
}

func (s *service) CreateSession(ctx context.Context) (*SessionInfo, error) {
	id := uuid.New()
	logger := s.log.With().Str("session_id", id.String()).Logger()
	h := newHub(logger)
	sess := &session{
		id:        id,
		createdAt: time.Now().UTC(),
		orch:      s.newOrchestrator(h, logger),
		hub:       h,
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	observability.SessionOpened()
	logger.Info().Msg("session opened")
	return sess.info(), nil
}

func (sess *session) info() *SessionInfo {
	snap := sess.orch.Snapshot()
	return &SessionInfo{
		ID:             sess.id,
		CreatedAt:      sess.createdAt,
		Transcript:     snap.Transcript,
		EncounterState: snap.Record,
		Epoch:          snap.Epoch,
	}
}

func (s *service) lookup(id uuid.UUID) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *service) GetSession(id uuid.UUID) (*SessionInfo, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return sess.info(), nil
}

func (s *service) Subscribe(id uuid.UUID) (<-chan pipeline.Event, func(), error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	events, cancel := sess.hub.subscribe()
	return events, cancel, nil
}

func (s *service) IngestText(ctx context.Context, id uuid.UUID, text string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	return sess.orch.IngestText(ctx, text)
}

func (s *service) IngestAudio(ctx context.Context, id uuid.UUID, pcm []byte) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	return sess.orch.IngestAudio(ctx, pcm)
}

func (s *service) Reset(id uuid.UUID) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	return sess.orch.Reset()
}

// EndSession generates the SOAP note, archives the encounter and hands the
// report off for delivery in the background.
func (s *service) EndSession(ctx context.Context, id uuid.UUID) (encounter.SOAPNote, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return encounter.SOAPNote{}, err
	}
	note, err := sess.orch.EndSession(ctx)
	if err != nil {
		return encounter.SOAPNote{}, err
	}

	snap := sess.orch.Snapshot()
	c := Consultation{
		ID:         sess.id,
		Transcript: snap.Transcript,
		Record:     snap.Record,
		SOAPNote:   note,
		StartedAt:  sess.createdAt,
		EndedAt:    time.Now().UTC(),
	}
	logger := s.log.With().Str("session_id", id.String()).Logger()

	if s.repo != nil {
		if err := s.repo.Save(ctx, &c); err != nil {
			logger.Error().Err(err).Msg("archive consultation failed")
		} else {
			logger.Info().Msg("consultation archived")
		}
	}

	if s.reportSvc != nil {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
			defer cancel()
			if err := s.reportSvc.SendDoctorReport(rctx, c); err != nil {
				logger.Error().Err(err).Msg("doctor report failed")
				return
			}
			logger.Info().Msg("doctor report sent")
		}()
	}
	return note, nil
}

func (s *service) CloseSession(id uuid.UUID) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.close(sess)
	return nil
}

func (s *service) close(sess *session) {
	sess.orch.Close()
	sess.hub.close()
	observability.SessionClosed()
	s.log.Info().Str("session_id", sess.id.String()).Msg("session closed")
}

func (s *service) GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	if s.repo == nil {
		return nil, ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// Shutdown closes every live session and waits for pending reports.
func (s *service) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = map[uuid.UUID]*session{}
	s.mu.Unlock()

	for _, sess := range sessions {
		s.close(sess)
	}
	s.background.Wait()
}
