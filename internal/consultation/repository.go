package consultation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"opd-copilot/internal/encounter"
)

var ErrNotFound = errors.New("consultation not found")

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	Save(ctx context.Context, c *Consultation) error
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	query := `SELECT id, transcript, record, soap_note, started_at, ended_at FROM consultations WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	var c Consultation
	var recordJSON, soapJSON []byte
	err := row.Scan(
		&c.ID,
		&c.Transcript,
		&recordJSON,
		&soapJSON,
		&c.StartedAt,
		&c.EndedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	c.Record = encounter.New()
	if len(recordJSON) > 0 {
		if err := json.Unmarshal(recordJSON, c.Record); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
	}
	if len(soapJSON) > 0 {
		if err := json.Unmarshal(soapJSON, &c.SOAPNote); err != nil {
			return nil, fmt.Errorf("unmarshal soap note: %w", err)
		}
	}
	return &c, nil
}

// Save upserts the archive row; ending a session twice keeps the latest note.
func (r *postgresRepo) Save(ctx context.Context, c *Consultation) error {
	recordJSON, err := json.Marshal(c.Record)
	if err != nil {
		return err
	}
	soapJSON, err := json.Marshal(c.SOAPNote)
	if err != nil {
		return err
	}
	if c.EndedAt.IsZero() {
		c.EndedAt = time.Now()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = c.EndedAt
	}

	query := `
		INSERT INTO consultations (id, transcript, record, soap_note, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			transcript = $2,
			record = $3,
			soap_note = $4,
			ended_at = $6
	`
	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.Transcript, recordJSON, soapJSON, c.StartedAt, c.EndedAt)
	return err
}
