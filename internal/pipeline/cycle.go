package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"opd-copilot/internal/platform/observability"
)

// cycle aggregates the roles launched by one ingestion. Results are merged
// as they arrive; the closing notification is decided once the last role
// resolves.
type cycle struct {
	id     string
	epoch  uint64
	start  time.Time
	total  int
	cancel context.CancelFunc
	log    zerolog.Logger

	mu        sync.Mutex
	pending   int
	failures  int
	transient int
	published bool
}

func newCycle(log zerolog.Logger, epoch uint64, roles int, start time.Time, cancel context.CancelFunc) *cycle {
	id := ulid.Make().String()
	return &cycle{
		id:      id,
		epoch:   epoch,
		start:   start,
		total:   roles,
		pending: roles,
		cancel:  cancel,
		log:     log.With().Str("cycle_id", id).Uint64("epoch", epoch).Logger(),
	}
}

// outcome records one resolved role and reports whether it was the last.
func (c *cycle) outcome(o Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch o {
	case OutcomeSuccess:
		c.published = true
	case OutcomeTransient:
		c.failures++
		c.transient++
	case OutcomeFatal:
		c.failures++
	}
	c.pending--
	return c.pending == 0
}

// closing returns the events that end the cycle.
func (c *cycle) closing(latency time.Duration) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := latency.Milliseconds()
	if c.published || c.failures < c.total {
		return []Event{{Type: EventStatus, Data: StatusPayload{PipelineLatencyMS: &ms}}}
	}
	if c.transient == c.failures {
		return []Event{{Type: EventStatus, Data: StatusPayload{
			Message:           msgTemporarilyUnavailable,
			PipelineLatencyMS: &ms,
		}}}
	}
	return []Event{
		{Type: EventError, Data: ErrorPayload{Message: msgAllRolesFailed}},
		{Type: EventStatus, Data: StatusPayload{PipelineLatencyMS: &ms}},
	}
}

// runRole drives one acquired runner and folds its outcome into the cycle.
func (o *Orchestrator) runRole(ctx context.Context, c *cycle, r runner, snap Snapshot) {
	log := c.log.With().Str("role", string(r.Name())).Logger()
	start := time.Now()

	delta, err := r.Run(ctx, snap)
	elapsed := time.Since(start)

	var outcome Outcome
	switch {
	case o.epoch.Stale(c.epoch):
		outcome = OutcomeStale
	case err != nil:
		outcome = Classify(err)
		event := log.Error()
		if outcome == OutcomeTransient {
			event = log.Warn()
		}
		event.Err(err).Dur("elapsed", elapsed).Msg("role call failed")
	case !o.publish(c.epoch, delta):
		outcome = OutcomeStale
	default:
		outcome = OutcomeSuccess
		log.Debug().Dur("elapsed", elapsed).Msg("role result merged")
	}

	if outcome == OutcomeStale {
		log.Debug().Msg("stale result dropped")
		observability.RecordStaleResult(string(r.Name()))
		c.cancel()
	}
	observability.RecordRoleCall(string(r.Name()), string(outcome), elapsed)

	if c.outcome(outcome) {
		c.cancel()
		o.closeCycle(c)
	}
}

// publish merges a role delta and emits the resulting events, unless the
// session moved on since the cycle launched.
func (o *Orchestrator) publish(epoch uint64, delta Delta) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.epoch.Stale(epoch) {
		return false
	}
	o.record = o.merger.Merge(o.record, delta.Record)
	o.sink.Emit(Event{Type: EventEncounterState, Data: o.record.Clone()})
	for _, e := range delta.Events {
		o.sink.Emit(e)
	}
	return true
}

func (o *Orchestrator) closeCycle(c *cycle) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.epoch.Stale(c.epoch) {
		return
	}
	latency := o.clock.Now().Sub(c.start)
	observability.RecordCycle(latency)
	for _, e := range c.closing(latency) {
		o.sink.Emit(e)
	}
	c.log.Info().Int("roles", c.total).Dur("latency", latency).Msg("cycle completed")
}
