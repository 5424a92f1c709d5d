package encounter

// Symptom is a SOCRATES-shaped description of one complaint.
type Symptom struct {
	Name        string   `json:"name"`
	Duration    string   `json:"duration,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	Character   string   `json:"character,omitempty"`
	Location    string   `json:"location,omitempty"`
	Onset       string   `json:"onset,omitempty"`
	Radiation   string   `json:"radiation,omitempty"`
	TimeCourse  string   `json:"time_course,omitempty"`
	Aggravating []string `json:"aggravating"`
	Relieving   []string `json:"relieving"`
	Associated  []string `json:"associated"`
}

// SymptomFocus is one isolated symptom that drives its own questioning track.
type SymptomFocus struct {
	CanonicalName string   `json:"canonical_name"`
	Aliases       []string `json:"aliases"`
	FirstSeenTurn int      `json:"first_seen_turn"`
	Priority      string   `json:"priority,omitempty"`
}

type SymptomKnownInfo struct {
	Duration        string   `json:"duration,omitempty"`
	Onset           string   `json:"onset,omitempty"`
	Location        string   `json:"location,omitempty"`
	Character       string   `json:"character,omitempty"`
	Radiation       string   `json:"radiation,omitempty"`
	Severity        string   `json:"severity,omitempty"`
	TimeCourse      string   `json:"time_course,omitempty"`
	Associated      []string `json:"associated"`
	Aggravating     []string `json:"aggravating"`
	Relieving       []string `json:"relieving"`
	Negatives       []string `json:"negatives"`
	RedFlags        []string `json:"red_flags"`
	Notes           []string `json:"notes"`
	LastUpdatedTurn int      `json:"last_updated_turn"`
}

type SymptomKeywordState struct {
	Symptom           string   `json:"symptom"`
	AddressedKeywords []string `json:"addressed_keywords"`
	NewKeywords       []string `json:"new_keywords"`
	ActiveKeywords    []string `json:"active_keywords"`
	Rationale         string   `json:"rationale,omitempty"`
	Priority          string   `json:"priority,omitempty"` // critical, high, medium, low
}

type Medication struct {
	Name      string `json:"name"`
	Dose      string `json:"dose,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

type VitalSign struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Demographics struct {
	Name  string   `json:"name,omitempty"`
	Age   string   `json:"age,omitempty"`
	Sex   string   `json:"sex,omitempty"`
	Other []string `json:"other"`
}

// ChiefComplaint is the structured presenting problem.
type ChiefComplaint struct {
	Primary         string   `json:"primary,omitempty"`
	Duration        string   `json:"duration,omitempty"`
	Onset           string   `json:"onset,omitempty"`
	Site            string   `json:"site,omitempty"`
	Character       string   `json:"character,omitempty"`
	Radiation       string   `json:"radiation,omitempty"`
	Severity        string   `json:"severity,omitempty"`
	TimeCourse      string   `json:"time_course,omitempty"`
	Characteristics []string `json:"characteristics"`
	Associated      []string `json:"associated"`
	Aggravating     []string `json:"aggravating"`
	Relieving       []string `json:"relieving"`
}

// Record is the canonical structured state of one encounter. It only grows;
// fields return to empty on an explicit reset.
type Record struct {
	Demographics             Demographics                   `json:"demographics"`
	ChiefComplaint           string                         `json:"chief_complaint,omitempty"`
	ChiefComplaintStructured ChiefComplaint                 `json:"chief_complaint_structured"`
	Symptoms                 []Symptom                      `json:"symptoms"`
	HistoryOfPresentIllness  string                         `json:"history_of_present_illness,omitempty"`
	PastMedicalHistory       []string                       `json:"past_medical_history"`
	Medications              []Medication                   `json:"medications"`
	Allergies                []string                       `json:"allergies"`
	FamilyHistory            []string                       `json:"family_history"`
	SocialHistory            []string                       `json:"social_history"`
	ReviewOfSystems          map[string][]string            `json:"review_of_systems"`
	Vitals                   []VitalSign                    `json:"vitals"`
	PhysicalExamFindings     []string                       `json:"physical_exam_findings"`
	DomainsCovered           []string                       `json:"domains_covered"`
	RedFlags                 []string                       `json:"red_flags"`
	IsolatedSymptoms         []SymptomFocus                 `json:"isolated_symptoms"`
	SymptomKnownInfo         map[string]SymptomKnownInfo    `json:"symptom_known_info"`
	SymptomKeywordState      map[string]SymptomKeywordState `json:"symptom_keyword_state"`
}

// KeywordGroup is one block of suggested clarification keywords.
type KeywordGroup struct {
	Category  string   `json:"category"`
	Priority  string   `json:"priority"`
	Keywords  []string `json:"keywords"`
	Rationale string   `json:"rationale,omitempty"`
}

// KeywordResult is the output of one keyword pipeline run.
type KeywordResult struct {
	Groups              []KeywordGroup                 `json:"groups"`
	IsolatedSymptoms    []SymptomFocus                 `json:"isolated_symptoms"`
	SymptomKnownInfo    map[string]SymptomKnownInfo    `json:"symptom_known_info"`
	SymptomKeywordState map[string]SymptomKeywordState `json:"symptom_keyword_state"`
}

type SOAPNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// New returns the canonical empty record. Every list and map is non-nil so
// the JSON snapshot renders empty collections rather than null.
func New() *Record {
	return &Record{
		Demographics:             Demographics{Other: []string{}},
		ChiefComplaintStructured: ChiefComplaint{}.clone(),
		Symptoms:                 []Symptom{},
		PastMedicalHistory:       []string{},
		Medications:              []Medication{},
		Allergies:                []string{},
		FamilyHistory:            []string{},
		SocialHistory:            []string{},
		ReviewOfSystems:          map[string][]string{},
		Vitals:                   []VitalSign{},
		PhysicalExamFindings:     []string{},
		DomainsCovered:           []string{},
		RedFlags:                 []string{},
		IsolatedSymptoms:         []SymptomFocus{},
		SymptomKnownInfo:         map[string]SymptomKnownInfo{},
		SymptomKeywordState:      map[string]SymptomKeywordState{},
	}
}

// Clone returns a deep copy that shares no mutable memory with r.
// A nil record clones to New().
func (r *Record) Clone() *Record {
	if r == nil {
		return New()
	}
	out := &Record{
		Demographics:             r.Demographics.clone(),
		ChiefComplaint:           r.ChiefComplaint,
		ChiefComplaintStructured: r.ChiefComplaintStructured.clone(),
		HistoryOfPresentIllness:  r.HistoryOfPresentIllness,
		PastMedicalHistory:       cloneStrings(r.PastMedicalHistory),
		Allergies:                cloneStrings(r.Allergies),
		FamilyHistory:            cloneStrings(r.FamilyHistory),
		SocialHistory:            cloneStrings(r.SocialHistory),
		PhysicalExamFindings:     cloneStrings(r.PhysicalExamFindings),
		DomainsCovered:           cloneStrings(r.DomainsCovered),
		RedFlags:                 cloneStrings(r.RedFlags),
		Medications:              append([]Medication{}, r.Medications...),
		Vitals:                   append([]VitalSign{}, r.Vitals...),
		Symptoms:                 make([]Symptom, 0, len(r.Symptoms)),
		IsolatedSymptoms:         make([]SymptomFocus, 0, len(r.IsolatedSymptoms)),
		ReviewOfSystems:          make(map[string][]string, len(r.ReviewOfSystems)),
		SymptomKnownInfo:         make(map[string]SymptomKnownInfo, len(r.SymptomKnownInfo)),
		SymptomKeywordState:      make(map[string]SymptomKeywordState, len(r.SymptomKeywordState)),
	}
	for _, s := range r.Symptoms {
		out.Symptoms = append(out.Symptoms, s.clone())
	}
	for _, f := range r.IsolatedSymptoms {
		out.IsolatedSymptoms = append(out.IsolatedSymptoms, f.clone())
	}
	for system, findings := range r.ReviewOfSystems {
		out.ReviewOfSystems[system] = cloneStrings(findings)
	}
	for k, v := range r.SymptomKnownInfo {
		out.SymptomKnownInfo[k] = v.clone()
	}
	for k, v := range r.SymptomKeywordState {
		out.SymptomKeywordState[k] = v.clone()
	}
	return out
}

func cloneStrings(s []string) []string {
	return append([]string{}, s...)
}

func (d Demographics) clone() Demographics {
	d.Other = cloneStrings(d.Other)
	return d
}

func (c ChiefComplaint) clone() ChiefComplaint {
	c.Characteristics = cloneStrings(c.Characteristics)
	c.Associated = cloneStrings(c.Associated)
	c.Aggravating = cloneStrings(c.Aggravating)
	c.Relieving = cloneStrings(c.Relieving)
	return c
}

func (s Symptom) clone() Symptom {
	s.Aggravating = cloneStrings(s.Aggravating)
	s.Relieving = cloneStrings(s.Relieving)
	s.Associated = cloneStrings(s.Associated)
	return s
}

func (f SymptomFocus) clone() SymptomFocus {
	f.Aliases = cloneStrings(f.Aliases)
	return f
}

func (k SymptomKnownInfo) clone() SymptomKnownInfo {
	k.Associated = cloneStrings(k.Associated)
	k.Aggravating = cloneStrings(k.Aggravating)
	k.Relieving = cloneStrings(k.Relieving)
	k.Negatives = cloneStrings(k.Negatives)
	k.RedFlags = cloneStrings(k.RedFlags)
	k.Notes = cloneStrings(k.Notes)
	return k
}

func (s SymptomKeywordState) clone() SymptomKeywordState {
	s.AddressedKeywords = cloneStrings(s.AddressedKeywords)
	s.NewKeywords = cloneStrings(s.NewKeywords)
	s.ActiveKeywords = cloneStrings(s.ActiveKeywords)
	return s
}
