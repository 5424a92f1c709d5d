package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"opd-copilot/internal/audio"
	"opd-copilot/internal/encounter"
)

// ErrClosed is returned by operations on a closed orchestrator.
var ErrClosed = errors.New("session closed")

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

type DemographicsExtractor interface {
	ExtractDemographics(ctx context.Context, transcript string, previous *encounter.Record) (encounter.Demographics, error)
}

type ChiefComplaintExtractor interface {
	ExtractChiefComplaint(ctx context.Context, transcript string, previous *encounter.Record) (string, encounter.ChiefComplaint, error)
}

type KeywordPipeline interface {
	SuggestKeywords(ctx context.Context, previous *encounter.Record, transcript string) (encounter.KeywordResult, error)
}

type SummaryGenerator interface {
	GenerateSOAP(ctx context.Context, transcript string, record *encounter.Record) (encounter.SOAPNote, error)
}

// Deps are the external collaborators of one session. A nil role
// collaborator disables that role.
type Deps struct {
	Transcriber    Transcriber
	Demographics   DemographicsExtractor
	ChiefComplaint ChiefComplaintExtractor
	Keywords       KeywordPipeline
	Summary        SummaryGenerator
	Sink           Sink
}

type Options struct {
	Debounce           time.Duration
	RoleDebounce       map[Role]time.Duration
	EnableDemographics bool
	LiveTranscript     bool
	Threshold          float64

	SampleRate    int
	AudioMinChunk time.Duration
	AudioOverlap  time.Duration

	Clock  Clock
	Logger zerolog.Logger
}

func (o Options) debounceFor(role Role) time.Duration {
	if d, ok := o.RoleDebounce[role]; ok && d > 0 {
		return d
	}
	return o.Debounce
}

// Orchestrator owns one session: its transcript, its record and the role
// runners enriching it.
type Orchestrator struct {
	deps    Deps
	opts    Options
	sink    Sink
	clock   Clock
	log     zerolog.Logger
	merger  *encounter.Merger
	runners []runner

	transcript encounter.Transcript
	audio      *audio.Buffer
	epoch      EpochGuard

	// control serializes ingestion against reset, end and close. ctx,
	// cancel, closed and tasks.Add are only touched while holding it.
	control sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	tasks   sync.WaitGroup
	ingest  sync.Mutex

	// mu is the merge lock: it guards record and orders every emitted event.
	mu     sync.Mutex
	record *encounter.Record

	asrReported atomic.Bool
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	sink := deps.Sink
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:   deps,
		opts:   opts,
		sink:   sink,
		clock:  opts.Clock,
		log:    opts.Logger,
		merger: encounter.NewMerger(encounter.NewMatcher(opts.Threshold)),
		audio:  audio.NewBuffer(opts.SampleRate, opts.AudioMinChunk, opts.AudioOverlap),
		ctx:    ctx,
		cancel: cancel,
		record: encounter.New(),
	}
	o.runners = o.buildRunners()
	return o
}

func (o *Orchestrator) buildRunners() []runner {
	var runners []runner

	if o.opts.EnableDemographics && o.deps.Demographics != nil {
		runners = append(runners, NewRoleRunner(RoleSpec[encounter.Demographics]{
			Name:     RoleDemographics,
			Debounce: o.opts.debounceFor(RoleDemographics),
			Call: func(ctx context.Context, snap Snapshot) (encounter.Demographics, error) {
				return o.deps.Demographics.ExtractDemographics(ctx, snap.Transcript, snap.Record)
			},
			Apply: func(d encounter.Demographics) Delta {
				return Delta{Record: &encounter.Record{Demographics: d}}
			},
		}))
	}

	if o.deps.ChiefComplaint != nil {
		type complaint struct {
			text       string
			structured encounter.ChiefComplaint
		}
		runners = append(runners, NewRoleRunner(RoleSpec[complaint]{
			Name:     RoleChiefComplaint,
			Debounce: o.opts.debounceFor(RoleChiefComplaint),
			Call: func(ctx context.Context, snap Snapshot) (complaint, error) {
				text, structured, err := o.deps.ChiefComplaint.ExtractChiefComplaint(ctx, snap.Transcript, snap.Record)
				return complaint{text: text, structured: structured}, err
			},
			Apply: func(c complaint) Delta {
				return Delta{Record: &encounter.Record{
					ChiefComplaint:           c.text,
					ChiefComplaintStructured: c.structured,
				}}
			},
		}))
	}

	if o.deps.Keywords != nil {
		runners = append(runners, NewRoleRunner(RoleSpec[encounter.KeywordResult]{
			Name:     RoleKeywords,
			Debounce: o.opts.debounceFor(RoleKeywords),
			Call: func(ctx context.Context, snap Snapshot) (encounter.KeywordResult, error) {
				return o.deps.Keywords.SuggestKeywords(ctx, snap.Record, snap.Transcript)
			},
			Apply: func(res encounter.KeywordResult) Delta {
				groups := res.Groups
				if groups == nil {
					groups = []encounter.KeywordGroup{}
				}
				return Delta{
					Record: &encounter.Record{
						IsolatedSymptoms:    res.IsolatedSymptoms,
						SymptomKnownInfo:    res.SymptomKnownInfo,
						SymptomKeywordState: res.SymptomKeywordState,
					},
					Events: []Event{{Type: EventKeywordSuggestions, Data: KeywordSuggestionsPayload{Groups: groups}}},
				}
			},
		}))
	}

	return runners
}

// IngestText appends a finalized transcript fragment and launches every
// role whose gate opens on the new transcript.
func (o *Orchestrator) IngestText(ctx context.Context, text string) error {
	o.control.Lock()
	defer o.control.Unlock()

	return o.ingestText(text)
}

func (o *Orchestrator) ingestText(text string) error {
	if o.closed {
		return ErrClosed
	}
	if !o.transcript.Append(text) {
		return nil
	}
	full := o.transcript.Full()
	if o.opts.LiveTranscript {
		lines := o.transcript.Lines()
		o.emit(Event{Type: EventTranscript, Data: TranscriptPayload{Text: lines[len(lines)-1], Full: full}})
	}
	o.launch(full)
	return nil
}

func (o *Orchestrator) launch(transcript string) {
	now := o.clock.Now()
	var acquired []runner
	for _, r := range o.runners {
		if r.TryAcquire(transcript, now) {
			acquired = append(acquired, r)
		}
	}
	if len(acquired) == 0 {
		return
	}

	epoch := o.epoch.Current()
	record := o.Record()
	cctx, cancel := context.WithCancel(o.ctx)
	c := newCycle(o.log, epoch, len(acquired), now, cancel)
	c.log.Debug().Int("roles", len(acquired)).Msg("cycle launched")

	for _, r := range acquired {
		snap := Snapshot{Transcript: transcript, Record: record.Clone(), Epoch: epoch}
		o.tasks.Add(1)
		go func(r runner) {
			defer o.tasks.Done()
			o.runRole(cctx, c, r, snap)
		}(r)
	}
}

// IngestAudio buffers PCM16 audio and, once a chunk is ready, transcribes it
// and ingests the text. Text transcribed from audio captured before a reset
// is discarded.
func (o *Orchestrator) IngestAudio(ctx context.Context, pcm []byte) error {
	o.ingest.Lock()
	defer o.ingest.Unlock()

	o.audio.Add(pcm)
	chunk, ok := o.audio.Chunk()
	if !ok {
		return nil
	}
	return o.transcribe(ctx, chunk)
}

// FlushAudio transcribes whatever audio remains buffered.
func (o *Orchestrator) FlushAudio(ctx context.Context) error {
	o.ingest.Lock()
	defer o.ingest.Unlock()

	chunk, ok := o.audio.Flush()
	if !ok {
		return nil
	}
	return o.transcribe(ctx, chunk)
}

func (o *Orchestrator) transcribe(ctx context.Context, chunk []byte) error {
	if o.deps.Transcriber == nil {
		return o.reportTranscriberUnavailable(ErrTranscriberUnavailable)
	}

	epoch := o.epoch.Current()
	text, err := o.deps.Transcriber.Transcribe(ctx, chunk)
	if err != nil {
		if errors.Is(err, ErrTranscriberUnavailable) {
			return o.reportTranscriberUnavailable(err)
		}
		o.log.Error().Err(err).Int("bytes", len(chunk)).Msg("transcription failed")
		return nil
	}

	o.control.Lock()
	defer o.control.Unlock()
	if o.epoch.Stale(epoch) {
		o.log.Debug().Msg("transcription from previous epoch dropped")
		return nil
	}
	return o.ingestText(text)
}

func (o *Orchestrator) reportTranscriberUnavailable(err error) error {
	if o.asrReported.CompareAndSwap(false, true) {
		o.log.Error().Err(err).Msg("transcriber unavailable")
		o.emit(Event{Type: EventError, Data: ErrorPayload{Message: msgTranscriberUnavailable}})
	}
	return nil
}

// Reset discards the session state. In-flight role calls are cancelled and
// awaited; their results, if any arrive, are dropped as stale.
func (o *Orchestrator) Reset() error {
	o.control.Lock()
	defer o.control.Unlock()

	if o.closed {
		return ErrClosed
	}
	epoch := o.invalidate()

	o.transcript.Reset()
	o.audio.Reset()
	o.asrReported.Store(false)
	for _, r := range o.runners {
		r.Rearm(true)
	}

	o.mu.Lock()
	o.record = encounter.New()
	o.sink.Emit(Event{Type: EventSessionReset, Data: NewResetPayload()})
	o.mu.Unlock()

	o.log.Info().Uint64("epoch", epoch).Msg("session reset")
	return nil
}

// EndSession stops enrichment and generates the final SOAP note from the
// transcript and record as they stand.
func (o *Orchestrator) EndSession(ctx context.Context) (encounter.SOAPNote, error) {
	o.control.Lock()
	defer o.control.Unlock()

	if o.closed {
		return encounter.SOAPNote{}, ErrClosed
	}
	epoch := o.invalidate()
	for _, r := range o.runners {
		r.Rearm(false)
	}

	if o.deps.Summary == nil {
		return encounter.SOAPNote{}, fmt.Errorf("generate soap note: no summary generator: %w", ErrFatal)
	}
	o.emit(Event{Type: EventStatus, Data: StatusPayload{Message: msgGeneratingSOAP}})

	start := time.Now()
	note, err := o.deps.Summary.GenerateSOAP(ctx, o.transcript.Full(), o.Record())
	if err != nil {
		o.log.Error().Err(err).Uint64("epoch", epoch).Msg("soap generation failed")
		o.emit(Event{Type: EventError, Data: ErrorPayload{Message: "SOAP note generation failed: " + err.Error()}})
		return encounter.SOAPNote{}, fmt.Errorf("generate soap note: %w", err)
	}

	o.emit(Event{Type: EventSOAPNote, Data: note})
	o.log.Info().Uint64("epoch", epoch).Dur("elapsed", time.Since(start)).Msg("session ended")
	return note, nil
}

// Close cancels all in-flight work and waits for it. Further operations
// return ErrClosed.
func (o *Orchestrator) Close() {
	o.control.Lock()
	defer o.control.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	o.invalidate()
	o.cancel()
}

// invalidate bumps the epoch, cancels every task of the previous epoch and
// waits for them to return. Caller holds control.
func (o *Orchestrator) invalidate() uint64 {
	o.mu.Lock()
	epoch := o.epoch.Bump()
	o.mu.Unlock()

	o.cancel()
	o.tasks.Wait()
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return epoch
}

// Wait blocks until every launched role call has resolved.
func (o *Orchestrator) Wait() {
	o.control.Lock()
	defer o.control.Unlock()
	o.tasks.Wait()
}

// Snapshot returns copies of the transcript and record.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		Transcript: o.transcript.Full(),
		Record:     o.record.Clone(),
		Epoch:      o.epoch.Current(),
	}
}

// Record returns a deep copy of the current record.
func (o *Orchestrator) Record() *encounter.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.record.Clone()
}

func (o *Orchestrator) emit(e Event) {
	o.mu.Lock()
	o.sink.Emit(e)
	o.mu.Unlock()
}
