package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"opd-copilot/internal/encounter"
)

// Completer is the JSON-completion surface the extractors need. *Client
// implements it.
type Completer interface {
	CompleteJSON(ctx context.Context, callType, system, user string, maxTokens int, out any) error
}

// Extractor runs the focused structured-extraction calls.
type Extractor struct {
	llm Completer
	log zerolog.Logger
}

func NewExtractor(llm Completer, logger zerolog.Logger) *Extractor {
	return &Extractor{llm: llm, log: logger.With().Str("component", "extractor").Logger()}
}

type demographicsReply struct {
	Demographics struct {
		Name  text  `json:"name"`
		Age   text  `json:"age"`
		Sex   text  `json:"sex"`
		Other texts `json:"other"`
	} `json:"demographics"`
}

func (e *Extractor) ExtractDemographics(ctx context.Context, transcript string, previous *encounter.Record) (encounter.Demographics, error) {
	prev := previous.Clone().Demographics
	user := fmt.Sprintf(demographicsUser, transcript, pretty(prev))

	var reply demographicsReply
	if err := e.llm.CompleteJSON(ctx, "demographics_extraction", demographicsSystem, user, 384, &reply); err != nil {
		return encounter.Demographics{}, err
	}
	d := reply.Demographics
	return encounter.Demographics{
		Name:  string(d.Name),
		Age:   string(d.Age),
		Sex:   string(d.Sex),
		Other: d.Other.list(),
	}, nil
}

type chiefComplaintReply struct {
	ChiefComplaint text `json:"chief_complaint"`
	Structured     struct {
		Primary         text  `json:"primary"`
		Duration        text  `json:"duration"`
		Onset           text  `json:"onset"`
		Site            text  `json:"site"`
		Character       text  `json:"character"`
		Radiation       text  `json:"radiation"`
		Severity        text  `json:"severity"`
		TimeCourse      text  `json:"time_course"`
		Characteristics texts `json:"characteristics"`
		Associated      texts `json:"associated"`
		Aggravating     texts `json:"aggravating"`
		Relieving       texts `json:"relieving"`
	} `json:"chief_complaint_structured"`
}

// ExtractChiefComplaint returns the concise complaint and its SOCRATES
// breakdown. An empty complaint falls back to the structured primary.
func (e *Extractor) ExtractChiefComplaint(ctx context.Context, transcript string, previous *encounter.Record) (string, encounter.ChiefComplaint, error) {
	prev := previous.Clone()
	user := fmt.Sprintf(chiefComplaintUser, transcript, pretty(map[string]any{
		"chief_complaint":            prev.ChiefComplaint,
		"chief_complaint_structured": prev.ChiefComplaintStructured,
	}))

	var reply chiefComplaintReply
	if err := e.llm.CompleteJSON(ctx, "chief_complaint_extraction", chiefComplaintSystem, user, 512, &reply); err != nil {
		return "", encounter.ChiefComplaint{}, err
	}
	s := reply.Structured
	structured := encounter.ChiefComplaint{
		Primary:         string(s.Primary),
		Duration:        string(s.Duration),
		Onset:           string(s.Onset),
		Site:            string(s.Site),
		Character:       string(s.Character),
		Radiation:       string(s.Radiation),
		Severity:        string(s.Severity),
		TimeCourse:      string(s.TimeCourse),
		Characteristics: s.Characteristics.list(),
		Associated:      s.Associated.list(),
		Aggravating:     s.Aggravating.list(),
		Relieving:       s.Relieving.list(),
	}
	complaint := string(reply.ChiefComplaint)
	if complaint == "" {
		complaint = structured.Primary
	}
	return complaint, structured, nil
}

type isolationReply struct {
	Symptoms []struct {
		CanonicalName text  `json:"canonical_name"`
		Aliases       texts `json:"aliases"`
		Priority      text  `json:"priority"`
	} `json:"symptoms"`
}

// IsolateSymptoms lists the distinct symptoms that should each drive a
// questioning track, de-duplicated case-insensitively by name.
func (e *Extractor) IsolateSymptoms(ctx context.Context, transcript string, previous []encounter.SymptomFocus) ([]encounter.SymptomFocus, error) {
	if previous == nil {
		previous = []encounter.SymptomFocus{}
	}
	user := fmt.Sprintf(symptomIsolationUser, transcript, pretty(previous))

	var reply isolationReply
	if err := e.llm.CompleteJSON(ctx, "symptom_isolation", symptomIsolationSystem, user, 512, &reply); err != nil {
		return nil, err
	}

	parsed := make([]encounter.SymptomFocus, 0, len(reply.Symptoms))
	for _, s := range reply.Symptoms {
		if s.CanonicalName == "" {
			continue
		}
		parsed = append(parsed, encounter.SymptomFocus{
			CanonicalName: string(s.CanonicalName),
			Aliases:       s.Aliases.list(),
			Priority:      strings.ToLower(string(s.Priority)),
		})
	}
	return dedupFocuses(parsed), nil
}

func dedupFocuses(in []encounter.SymptomFocus) []encounter.SymptomFocus {
	out := make([]encounter.SymptomFocus, 0, len(in))
	index := map[string]int{}
	for _, s := range in {
		key := strings.ToLower(strings.TrimSpace(s.CanonicalName))
		if key == "" {
			continue
		}
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			s.CanonicalName = strings.TrimSpace(s.CanonicalName)
			s.Aliases = encounter.UniqueFold(s.Aliases)
			out = append(out, s)
			continue
		}
		existing := &out[i]
		existing.Aliases = encounter.UniqueFold(append(existing.Aliases, s.Aliases...))
		if s.Priority != "" {
			existing.Priority = s.Priority
		}
	}
	return out
}
