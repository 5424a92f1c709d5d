package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"opd-copilot/internal/encounter"
)

// Summarizer writes the end-of-encounter SOAP note.
type Summarizer struct {
	llm Completer
	log zerolog.Logger
}

func NewSummarizer(llm Completer, logger zerolog.Logger) *Summarizer {
	return &Summarizer{llm: llm, log: logger.With().Str("component", "summary").Logger()}
}

type soapReply struct {
	Subjective text `json:"subjective"`
	Objective  text `json:"objective"`
	Assessment text `json:"assessment"`
	Plan       text `json:"plan"`
}

// GenerateSOAP returns a placeholder note rather than an error when the
// model's reply cannot be parsed, so the encounter still ends with a note.
func (s *Summarizer) GenerateSOAP(ctx context.Context, transcript string, record *encounter.Record) (encounter.SOAPNote, error) {
	user := fmt.Sprintf(summaryUser, transcript, pretty(record.Clone()))

	var reply soapReply
	if err := s.llm.CompleteJSON(ctx, "soap_summary", summarySystem, user, 1024, &reply); err != nil {
		if errors.Is(err, errMalformed) {
			s.log.Error().Err(err).Msg("soap note unparseable, returning placeholder")
			return encounter.SOAPNote{
				Subjective: "Unable to generate — parsing failed.",
				Objective:  "N/A",
				Assessment: "N/A",
				Plan:       "N/A",
			}, nil
		}
		return encounter.SOAPNote{}, err
	}
	return encounter.SOAPNote{
		Subjective: string(reply.Subjective),
		Objective:  string(reply.Objective),
		Assessment: string(reply.Assessment),
		Plan:       string(reply.Plan),
	}, nil
}
