package agent

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"opd-copilot/internal/encounter"
	"opd-copilot/internal/pipeline"
)

func TestExtractDemographics(t *testing.T) {
	llm := newFakeLLM().on("demographics_extraction", func(user string) (string, error) {
		if !strings.Contains(user, `"name": "Asha"`) {
			t.Errorf("previous demographics missing from prompt:\n%s", user)
		}
		return `{"demographics":{"name":null,"age":45,"sex":"female","other":["farmer",""]}}`, nil
	})

	prev := encounter.New()
	prev.Demographics.Name = "Asha"

	d, err := NewExtractor(llm, zerolog.Nop()).ExtractDemographics(context.Background(), "I am 45", prev)
	if err != nil {
		t.Fatalf("ExtractDemographics: %v", err)
	}
	want := encounter.Demographics{Age: "45", Sex: "female", Other: []string{"farmer"}}
	if !reflect.DeepEqual(d, want) {
		t.Fatalf("got %+v, want %+v", d, want)
	}
}

func TestExtractChiefComplaint(t *testing.T) {
	llm := newFakeLLM().on("chief_complaint_extraction", fixed(`{
		"chief_complaint": null,
		"chief_complaint_structured": {"primary": "chest pain", "duration": "2 days", "aggravating": ["exertion"]}
	}`))

	complaint, structured, err := NewExtractor(llm, zerolog.Nop()).ExtractChiefComplaint(context.Background(), "chest pain for 2 days", nil)
	if err != nil {
		t.Fatalf("ExtractChiefComplaint: %v", err)
	}
	if complaint != "chest pain" {
		t.Fatalf("complaint = %q", complaint)
	}
	if structured.Duration != "2 days" || !reflect.DeepEqual(structured.Aggravating, []string{"exertion"}) {
		t.Fatalf("structured = %+v", structured)
	}
	if structured.Relieving == nil {
		t.Fatalf("lists must be non-nil")
	}
}

func TestExtractorPropagatesFailures(t *testing.T) {
	llm := newFakeLLM().on("demographics_extraction", fixed("no json here"))
	_, err := NewExtractor(llm, zerolog.Nop()).ExtractDemographics(context.Background(), "hi", nil)
	if !errors.Is(err, pipeline.ErrFatal) {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerateSOAP(t *testing.T) {
	llm := newFakeLLM().on("soap_summary", fixed(`{"subjective":"45F with cough","objective":"Limited objective data available from this encounter.","assessment":"URTI","plan":"Fluids"}`))
	note, err := NewSummarizer(llm, zerolog.Nop()).GenerateSOAP(context.Background(), "transcript", encounter.New())
	if err != nil {
		t.Fatalf("GenerateSOAP: %v", err)
	}
	if note.Subjective != "45F with cough" || note.Plan != "Fluids" {
		t.Fatalf("note = %+v", note)
	}
}

func TestGenerateSOAPPlaceholderOnParseFailure(t *testing.T) {
	llm := newFakeLLM().on("soap_summary", fixed("I cannot do that"))
	note, err := NewSummarizer(llm, zerolog.Nop()).GenerateSOAP(context.Background(), "transcript", nil)
	if err != nil {
		t.Fatalf("GenerateSOAP: %v", err)
	}
	if !strings.HasPrefix(note.Subjective, "Unable to generate") || note.Objective != "N/A" || note.Plan != "N/A" {
		t.Fatalf("note = %+v", note)
	}
}

func TestGenerateSOAPTransportFailure(t *testing.T) {
	llm := newFakeLLM().on("soap_summary", func(string) (string, error) {
		return "", pipeline.ErrTransient
	})
	if _, err := NewSummarizer(llm, zerolog.Nop()).GenerateSOAP(context.Background(), "t", nil); !errors.Is(err, pipeline.ErrTransient) {
		t.Fatalf("err = %v", err)
	}
}
