package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"opd-copilot/internal/encounter"
	"opd-copilot/internal/keywords"
)

var priorities = map[string]bool{"critical": true, "high": true, "medium": true, "low": true}

func normalizePriority(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if priorities[p] {
		return p
	}
	return "medium"
}

// fallbackGroup is suggested while no symptom has been isolated.
func fallbackGroup() encounter.KeywordGroup {
	return encounter.KeywordGroup{
		Category:  "General Clarification",
		Priority:  "high",
		Keywords:  []string{"chief complaint", "timeline", "red flags"},
		Rationale: "No distinct symptom isolated yet; clarify presenting problem and safety red flags.",
	}
}

type KeywordOptions struct {
	// Enabled turns the per-symptom pipeline on. When off, only the
	// fallback group is suggested.
	Enabled bool
	// MaxSymptomCalls caps the symptoms processed per run; zero means all.
	MaxSymptomCalls int
}

// KeywordPipeline produces per-symptom clarification keywords: isolate the
// symptoms, then for each one concurrently summarise what is known and ask
// which topics are addressed and which remain open.
type KeywordPipeline struct {
	llm       Completer
	extractor *Extractor
	catalog   *keywords.Catalog
	merger    *encounter.Merger
	matcher   encounter.Matcher
	opts      KeywordOptions
	log       zerolog.Logger
}

func NewKeywordPipeline(llm Completer, catalog *keywords.Catalog, matcher encounter.Matcher, opts KeywordOptions, logger zerolog.Logger) *KeywordPipeline {
	if catalog == nil {
		catalog = keywords.Default()
	}
	return &KeywordPipeline{
		llm:       llm,
		extractor: NewExtractor(llm, logger),
		catalog:   catalog,
		merger:    encounter.NewMerger(matcher),
		matcher:   matcher,
		opts:      opts,
		log:       logger.With().Str("component", "keywords").Logger(),
	}
}

func (p *KeywordPipeline) SuggestKeywords(ctx context.Context, previous *encounter.Record, transcript string) (encounter.KeywordResult, error) {
	prev := previous.Clone()
	passthrough := encounter.KeywordResult{
		Groups:              []encounter.KeywordGroup{fallbackGroup()},
		IsolatedSymptoms:    prev.IsolatedSymptoms,
		SymptomKnownInfo:    prev.SymptomKnownInfo,
		SymptomKeywordState: prev.SymptomKeywordState,
	}
	if !p.opts.Enabled {
		return passthrough, nil
	}

	transcript = strings.TrimSpace(transcript)
	isolated, err := p.extractor.IsolateSymptoms(ctx, transcript, prev.IsolatedSymptoms)
	if err != nil {
		return encounter.KeywordResult{}, err
	}
	if len(isolated) == 0 {
		passthrough.IsolatedSymptoms = []encounter.SymptomFocus{}
		return passthrough, nil
	}

	ordered := orderByLatestMention(transcript, isolated)
	if n := p.opts.MaxSymptomCalls; n > 0 && len(ordered) > n {
		ordered = ordered[:n]
	}

	results := make(chan symptomOutcome, len(ordered))
	for i, s := range ordered {
		go func(i int, s encounter.SymptomFocus) {
			out := p.processSymptom(ctx, s, transcript, prev)
			out.index = i
			results <- out
		}(i, s)
	}

	done := make([]*symptomOutcome, len(ordered))
	var firstErr error
	for range ordered {
		out := <-results
		if out.err != nil {
			p.log.Error().Err(out.err).Str("symptom", out.name).Msg("per-symptom keyword processing failed")
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}
		done[out.index] = &out
	}

	result := encounter.KeywordResult{
		Groups:              []encounter.KeywordGroup{},
		IsolatedSymptoms:    ordered,
		SymptomKnownInfo:    map[string]encounter.SymptomKnownInfo{},
		SymptomKeywordState: map[string]encounter.SymptomKeywordState{},
	}
	succeeded := 0
	for _, out := range done {
		if out == nil {
			continue
		}
		succeeded++
		result.SymptomKnownInfo[out.name] = out.known
		result.SymptomKeywordState[out.name] = out.state
		if out.group != nil {
			result.Groups = append(result.Groups, *out.group)
		}
	}
	if succeeded == 0 {
		return encounter.KeywordResult{}, firstErr
	}
	if len(result.Groups) == 0 {
		result.Groups = []encounter.KeywordGroup{fallbackGroup()}
	}
	return result, nil
}

type symptomOutcome struct {
	index int
	name  string
	known encounter.SymptomKnownInfo
	state encounter.SymptomKeywordState
	group *encounter.KeywordGroup
	err   error
}

func (p *KeywordPipeline) processSymptom(ctx context.Context, s encounter.SymptomFocus, transcript string, prev *encounter.Record) symptomOutcome {
	name := s.CanonicalName
	out := symptomOutcome{name: name}

	current, _ := encounter.Lookup(p.matcher, prev.SymptomKnownInfo, name)
	previousActive := []string{}
	if st, ok := encounter.Lookup(p.matcher, prev.SymptomKeywordState, name); ok {
		previousActive = st.ActiveKeywords
	}

	delta, err := p.summaryDelta(ctx, name, transcript, current)
	if err != nil {
		out.err = err
		return out
	}
	known := p.merger.MergeKnownInfo(current, delta)
	fixed := p.catalog.Lookup(name)
	if fixed == nil {
		fixed = []string{}
	}

	update, err := p.keywordUpdate(ctx, name, transcript, known, previousActive, fixed)
	if err != nil {
		out.err = err
		return out
	}

	var unresolved []string
	for _, k := range encounter.UniqueFold(append(append([]string{}, fixed...), update.NewKeywords...)) {
		if !p.matcher.Addressed(k, update.AddressedKeywords) {
			unresolved = append(unresolved, k)
		}
	}
	update.ActiveKeywords = p.matcher.CarryForwardKeywords(previousActive, update.AddressedKeywords, unresolved)

	out.known = known
	out.state = update
	if len(update.ActiveKeywords) > 0 || update.Priority == "critical" {
		out.group = &encounter.KeywordGroup{
			Category:  name,
			Priority:  update.Priority,
			Keywords:  update.ActiveKeywords,
			Rationale: update.Rationale,
		}
	}
	return out
}

type summaryReply struct {
	KnownInfoDelta struct {
		Duration    text  `json:"duration"`
		Onset       text  `json:"onset"`
		Location    text  `json:"location"`
		Character   text  `json:"character"`
		Radiation   text  `json:"radiation"`
		Severity    text  `json:"severity"`
		TimeCourse  text  `json:"time_course"`
		Associated  texts `json:"associated"`
		Aggravating texts `json:"aggravating"`
		Relieving   texts `json:"relieving"`
		Negatives   texts `json:"negatives"`
		RedFlags    texts `json:"red_flags"`
		Notes       texts `json:"notes"`
	} `json:"known_info_delta"`
}

// summaryDelta asks for facts newly stated about one symptom. A reply that
// cannot be parsed yields an empty delta.
func (p *KeywordPipeline) summaryDelta(ctx context.Context, symptom, transcript string, current encounter.SymptomKnownInfo) (encounter.SymptomKnownInfo, error) {
	user := fmt.Sprintf(symptomSummaryUser, symptom, transcript, pretty(current))

	var reply summaryReply
	if err := p.llm.CompleteJSON(ctx, "symptom_summary", symptomSummarySystem, user, 512, &reply); err != nil {
		if errors.Is(err, errMalformed) {
			p.log.Warn().Err(err).Str("symptom", symptom).Msg("symptom summary unusable, keeping known info")
			return encounter.SymptomKnownInfo{}, nil
		}
		return encounter.SymptomKnownInfo{}, err
	}
	d := reply.KnownInfoDelta
	return encounter.SymptomKnownInfo{
		Duration:    string(d.Duration),
		Onset:       string(d.Onset),
		Location:    string(d.Location),
		Character:   string(d.Character),
		Radiation:   string(d.Radiation),
		Severity:    string(d.Severity),
		TimeCourse:  string(d.TimeCourse),
		Associated:  d.Associated.list(),
		Aggravating: d.Aggravating.list(),
		Relieving:   d.Relieving.list(),
		Negatives:   d.Negatives.list(),
		RedFlags:    d.RedFlags.list(),
		Notes:       d.Notes.list(),
	}, nil
}

type keywordReply struct {
	Priority  text  `json:"priority"`
	Rationale text  `json:"rationale"`
	Addressed texts `json:"addressed_keywords"`
	New       texts `json:"new_keywords"`
}

// keywordUpdate asks which topics are addressed and which are still open.
// Active keywords are left empty for the caller to compute. A reply that
// cannot be parsed counts as no update at medium priority.
func (p *KeywordPipeline) keywordUpdate(ctx context.Context, symptom, transcript string, known encounter.SymptomKnownInfo, previousActive, fixed []string) (encounter.SymptomKeywordState, error) {
	user := fmt.Sprintf(symptomKeywordsUser, symptom, transcript, pretty(known), pretty(previousActive), pretty(fixed))

	var reply keywordReply
	if err := p.llm.CompleteJSON(ctx, "symptom_keywords", symptomKeywordsSystem, user, 512, &reply); err != nil {
		if !errors.Is(err, errMalformed) {
			return encounter.SymptomKeywordState{}, err
		}
		p.log.Warn().Err(err).Str("symptom", symptom).Msg("keyword update unusable, carrying active keywords")
		return encounter.SymptomKeywordState{
			Symptom:           symptom,
			AddressedKeywords: []string{},
			NewKeywords:       []string{},
			ActiveKeywords:    []string{},
			Priority:          "medium",
		}, nil
	}

	var fresh []string
	for _, k := range encounter.UniqueFold(reply.New.list()) {
		if !p.matcher.Addressed(k, fixed) {
			fresh = append(fresh, k)
		}
	}
	if fresh == nil {
		fresh = []string{}
	}
	return encounter.SymptomKeywordState{
		Symptom:           symptom,
		AddressedKeywords: encounter.UniqueFold(reply.Addressed.list()),
		NewKeywords:       fresh,
		ActiveKeywords:    []string{},
		Rationale:         string(reply.Rationale),
		Priority:          normalizePriority(string(reply.Priority)),
	}, nil
}

// orderByLatestMention puts the most recently mentioned symptoms first,
// unmentioned ones last in their original order. Symptoms without a first
// seen turn get their 1-based position.
func orderByLatestMention(transcript string, symptoms []encounter.SymptomFocus) []encounter.SymptomFocus {
	lower := strings.ToLower(transcript)
	type ranked struct {
		focus encounter.SymptomFocus
		last  int
	}
	items := make([]ranked, 0, len(symptoms))
	for _, s := range symptoms {
		last := -1
		for _, candidate := range append([]string{s.CanonicalName}, s.Aliases...) {
			c := strings.ToLower(strings.TrimSpace(candidate))
			if c == "" {
				continue
			}
			last = max(last, strings.LastIndex(lower, c))
		}
		items = append(items, ranked{focus: s, last: last})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if (a.last >= 0) != (b.last >= 0) {
			return a.last >= 0
		}
		return a.last > b.last
	})

	out := make([]encounter.SymptomFocus, 0, len(items))
	for order, it := range items {
		f := it.focus
		if f.FirstSeenTurn == 0 {
			f.FirstSeenTurn = order + 1
		}
		out = append(out, f)
	}
	return out
}
