// Package report renders the end-of-encounter SOAP report and delivers it
// to the doctor's Telegram chat.
package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/signintech/gopdf"

	"opd-copilot/internal/consultation"
	"opd-copilot/internal/encounter"
)

type TelegramClient interface {
	SendMessage(ctx context.Context, chatID, text string) error
	SendDocument(ctx context.Context, chatID string, fileData []byte, fileName, caption string) error
}

type Fonts struct {
	Regular string
	Bold    string
}

type Service struct {
	tgClient     TelegramClient
	doctorChatID string
	fonts        Fonts
	log          zerolog.Logger
}

func NewService(tg TelegramClient, doctorChatID string, fonts Fonts, logger zerolog.Logger) *Service {
	return &Service{
		tgClient:     tg,
		doctorChatID: doctorChatID,
		fonts:        fonts,
		log:          logger.With().Str("component", "report").Logger(),
	}
}

// Section is one titled block of the report.
type Section struct {
	Title string
	Body  []string
}

// Sections lays out the report content. Empty fields are omitted, except
// the four SOAP sections which always appear.
func Sections(c consultation.Consultation) []Section {
	rec := c.Record
	if rec == nil {
		rec = encounter.New()
	}
	var out []Section

	var patient []string
	d := rec.Demographics
	for _, kv := range [][2]string{{"Name", d.Name}, {"Age", d.Age}, {"Sex", d.Sex}} {
		if kv[1] != "" {
			patient = append(patient, kv[0]+": "+kv[1])
		}
	}
	patient = append(patient, d.Other...)
	if len(patient) > 0 {
		out = append(out, Section{Title: "Patient", Body: patient})
	}

	if cc := chiefComplaint(rec); cc != "" {
		out = append(out, Section{Title: "Chief complaint", Body: []string{cc}})
	}

	for _, s := range []struct{ title, text string }{
		{"Subjective", c.SOAPNote.Subjective},
		{"Objective", c.SOAPNote.Objective},
		{"Assessment", c.SOAPNote.Assessment},
		{"Plan", c.SOAPNote.Plan},
	} {
		text := strings.TrimSpace(s.text)
		if text == "" {
			text = "N/A"
		}
		out = append(out, Section{Title: s.title, Body: strings.Split(text, "\n")})
	}

	if len(rec.RedFlags) > 0 {
		body := make([]string, 0, len(rec.RedFlags))
		for _, f := range rec.RedFlags {
			body = append(body, "- "+f)
		}
		out = append(out, Section{Title: "Red flags", Body: body})
	}
	return out
}

func chiefComplaint(rec *encounter.Record) string {
	cc := rec.ChiefComplaint
	if cc == "" {
		cc = rec.ChiefComplaintStructured.Primary
	}
	if d := rec.ChiefComplaintStructured.Duration; cc != "" && d != "" {
		cc += " (" + d + ")"
	}
	return cc
}

// PlainText renders the sections for a text-only message.
func PlainText(c consultation.Consultation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SOAP note: consultation %s\n", c.ID)
	for _, s := range Sections(c) {
		fmt.Fprintf(&b, "\n%s\n", strings.ToUpper(s.Title))
		for _, line := range s.Body {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

const (
	pageBottom = 780.0
	textWidth  = 500.0
)

// Render builds the PDF report.
func (s *Service) Render(c consultation.Consultation) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.SetMargins(48, 48, 48, 48)
	pdf.AddPage()

	if err := pdf.AddTTFFont("body", s.fonts.Regular); err != nil {
		return nil, fmt.Errorf("load font %s: %w", s.fonts.Regular, err)
	}
	heading := "body"
	if s.fonts.Bold != "" {
		if err := pdf.AddTTFFont("heading", s.fonts.Bold); err == nil {
			heading = "heading"
		} else {
			s.log.Warn().Err(err).Str("path", s.fonts.Bold).Msg("bold font unavailable, using regular")
		}
	}

	line := func(font string, size float64, text string, gap float64) error {
		if err := pdf.SetFont(font, "", size); err != nil {
			return err
		}
		lines, err := pdf.SplitText(text, textWidth)
		if err != nil {
			lines = []string{text}
		}
		for _, l := range lines {
			if pdf.GetY() > pageBottom {
				pdf.AddPage()
			}
			if err := pdf.Cell(nil, l); err != nil {
				return err
			}
			pdf.Br(size + 3)
		}
		pdf.Br(gap)
		return nil
	}

	if err := line(heading, 18, "OPD consultation report", 4); err != nil {
		return nil, err
	}
	ended := c.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	if err := line("body", 10, fmt.Sprintf("Consultation %s, %s", c.ID, ended.Format("02.01.2006 15:04")), 12); err != nil {
		return nil, err
	}

	for _, sec := range Sections(c) {
		if err := line(heading, 13, sec.Title, 2); err != nil {
			return nil, err
		}
		for _, b := range sec.Body {
			if strings.TrimSpace(b) == "" {
				continue
			}
			if err := line("body", 11, b, 0); err != nil {
				return nil, err
			}
		}
		pdf.Br(10)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// SendDoctorReport delivers the PDF report, falling back to a plain text
// message when the PDF cannot be rendered.
func (s *Service) SendDoctorReport(ctx context.Context, c consultation.Consultation) error {
	logger := s.log.With().Str("session_id", c.ID.String()).Logger()

	data, err := s.Render(c)
	if err != nil {
		logger.Warn().Err(err).Msg("pdf render failed, sending text report")
		if err := s.tgClient.SendMessage(ctx, s.doctorChatID, PlainText(c)); err != nil {
			return fmt.Errorf("send text report: %w", err)
		}
		return nil
	}

	fileName := fmt.Sprintf("soap_%s.pdf", c.ID.String())
	if err := s.tgClient.SendDocument(ctx, s.doctorChatID, data, fileName, "SOAP note"); err != nil {
		return fmt.Errorf("send pdf report: %w", err)
	}
	logger.Info().Int("bytes", len(data)).Msg("pdf report sent")
	return nil
}
