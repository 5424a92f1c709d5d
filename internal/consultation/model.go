package consultation

import (
	"time"

	"github.com/google/uuid"

	"opd-copilot/internal/encounter"
)

// Consultation is the archived outcome of one ended session.
type Consultation struct {
	ID         uuid.UUID          `json:"id" db:"id"`
	Transcript string             `json:"transcript" db:"transcript"`
	Record     *encounter.Record  `json:"encounter_state" db:"record"`
	SOAPNote   encounter.SOAPNote `json:"soap_note" db:"soap_note"`
	StartedAt  time.Time          `json:"started_at" db:"started_at"`
	EndedAt    time.Time          `json:"ended_at" db:"ended_at"`
}

// SessionInfo is a point-in-time view of a live session.
type SessionInfo struct {
	ID             uuid.UUID         `json:"session_id"`
	CreatedAt      time.Time         `json:"created_at"`
	Transcript     string            `json:"transcript"`
	EncounterState *encounter.Record `json:"encounter_state"`
	Epoch          uint64            `json:"epoch"`
}
