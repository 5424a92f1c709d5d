package pipeline

import "opd-copilot/internal/encounter"

type EventType string

const (
	EventTranscript         EventType = "transcript"
	EventEncounterState     EventType = "encounter_state"
	EventKeywordSuggestions EventType = "keyword_suggestions"
	EventSOAPNote           EventType = "soap_note"
	EventSessionReset       EventType = "session_reset"
	EventStatus             EventType = "status"
	EventError              EventType = "error"
)

// Event is one outbound message, emitted in merge/publish order.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Sink receives every event of one session. Emit is called with the
// orchestrator's merge lock held and must not block for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type TranscriptPayload struct {
	Text string `json:"text"`
	Full string `json:"full"`
}

type StatusPayload struct {
	Message           string `json:"message,omitempty"`
	PipelineLatencyMS *int64 `json:"pipeline_latency_ms,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type KeywordSuggestionsPayload struct {
	Groups []encounter.KeywordGroup `json:"groups"`
}

// ResetPayload is the canonical empty session snapshot sent on reset.
type ResetPayload struct {
	Transcript         string                   `json:"transcript"`
	KeywordSuggestions []encounter.KeywordGroup `json:"keyword_suggestions"`
	EncounterState     *encounter.Record        `json:"encounter_state"`
	SOAPNote           *encounter.SOAPNote      `json:"soap_note"`
	PipelineLatencyMS  *int64                   `json:"pipeline_latency_ms"`
	Message            string                   `json:"message"`
}

func NewResetPayload() ResetPayload {
	return ResetPayload{
		KeywordSuggestions: []encounter.KeywordGroup{},
		EncounterState:     encounter.New(),
		Message:            "Session reset.",
	}
}

const (
	msgTemporarilyUnavailable = "LLM temporarily unavailable. Continuing and retrying on the next cycle."
	msgAllRolesFailed         = "Pipeline error: all role calls failed."
	msgGeneratingSOAP         = "Generating SOAP note..."
	msgTranscriberUnavailable = "ASR unavailable: speech recognition is not loaded. Check /health and server logs."
)
