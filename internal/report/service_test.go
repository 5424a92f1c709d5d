package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"opd-copilot/internal/consultation"
	"opd-copilot/internal/encounter"
)

type fakeTelegram struct {
	messages  []string
	documents []string
	err       error
}

func (f *fakeTelegram) SendMessage(ctx context.Context, chatID, text string) error {
	f.messages = append(f.messages, text)
	return f.err
}

func (f *fakeTelegram) SendDocument(ctx context.Context, chatID string, data []byte, fileName, caption string) error {
	f.documents = append(f.documents, fileName)
	return f.err
}

func sample() consultation.Consultation {
	rec := encounter.New()
	rec.Demographics.Name = "Ravi"
	rec.Demographics.Age = "52 years"
	rec.ChiefComplaintStructured.Primary = "chest pain"
	rec.ChiefComplaintStructured.Duration = "2 hours"
	rec.RedFlags = []string{"radiation to left arm"}
	return consultation.Consultation{
		ID:     uuid.MustParse("6f1c0b9e-8a1f-4c1e-9d8b-3a2f0c6b7e11"),
		Record: rec,
		SOAPNote: encounter.SOAPNote{
			Subjective: "52M with chest pain.\nNo prior history.",
			Assessment: "ACS until proven otherwise",
			Plan:       "ECG, troponin",
		},
	}
}

func TestSections(t *testing.T) {
	got := Sections(sample())

	var titles []string
	for _, s := range got {
		titles = append(titles, s.Title)
	}
	want := "Patient,Chief complaint,Subjective,Objective,Assessment,Plan,Red flags"
	if strings.Join(titles, ",") != want {
		t.Fatalf("titles = %v", titles)
	}
	if got[0].Body[0] != "Name: Ravi" || got[0].Body[1] != "Age: 52 years" {
		t.Fatalf("patient = %q", got[0].Body)
	}
	if got[1].Body[0] != "chest pain (2 hours)" {
		t.Fatalf("chief complaint = %q", got[1].Body)
	}
	if len(got[2].Body) != 2 || got[3].Body[0] != "N/A" {
		t.Fatalf("soap sections = %+v", got[2:6])
	}
}

func TestSectionsForEmptyRecord(t *testing.T) {
	got := Sections(consultation.Consultation{})
	if len(got) != 4 || got[0].Title != "Subjective" {
		t.Fatalf("sections = %+v", got)
	}
}

func TestSendDoctorReportFallsBackToText(t *testing.T) {
	tg := &fakeTelegram{}
	svc := NewService(tg, "42", Fonts{Regular: "/nonexistent/font.ttf"}, zerolog.Nop())

	if err := svc.SendDoctorReport(context.Background(), sample()); err != nil {
		t.Fatalf("SendDoctorReport: %v", err)
	}
	if len(tg.documents) != 0 || len(tg.messages) != 1 {
		t.Fatalf("documents=%v messages=%d", tg.documents, len(tg.messages))
	}
	if msg := tg.messages[0]; !strings.Contains(msg, "ASSESSMENT\nACS until proven otherwise") {
		t.Fatalf("message = %q", msg)
	}
}

func TestSendDoctorReportPropagatesDeliveryError(t *testing.T) {
	tg := &fakeTelegram{err: errors.New("blocked")}
	svc := NewService(tg, "42", Fonts{Regular: "/nonexistent/font.ttf"}, zerolog.Nop())
	if err := svc.SendDoctorReport(context.Background(), sample()); err == nil {
		t.Fatal("expected error")
	}
}
