package encounter

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func newTestMerger() *Merger {
	return NewMerger(NewMatcher(DefaultThreshold))
}

func populatedRecord() *Record {
	r := New()
	r.Demographics = Demographics{Name: "Priya Sharma", Age: "45 years", Other: []string{"farmer"}}
	r.ChiefComplaint = "fever"
	r.ChiefComplaintStructured = ChiefComplaint{Primary: "fever", Duration: "3 days", Associated: []string{"chills"}}
	r.Symptoms = []Symptom{{Name: "fever", Duration: "3 days", Associated: []string{"chills"}}}
	r.Allergies = []string{"penicillin"}
	r.Medications = []Medication{{Name: "paracetamol", Dose: "500 mg"}}
	r.Vitals = []VitalSign{{Name: "temperature", Value: "38.9 C"}}
	r.ReviewOfSystems = map[string][]string{"respiratory": {"no cough"}}
	r.IsolatedSymptoms = []SymptomFocus{{CanonicalName: "fever", Aliases: []string{"pyrexia"}, FirstSeenTurn: 2}}
	r.SymptomKnownInfo = map[string]SymptomKnownInfo{
		"fever": {Duration: "3 days", Associated: []string{"chills"}, LastUpdatedTurn: 4},
	}
	r.SymptomKeywordState = map[string]SymptomKeywordState{
		"fever": {Symptom: "fever", ActiveKeywords: []string{"grade", "pattern", "chills"}, Priority: "high"},
	}
	return r
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	m := newTestMerger()
	current := populatedRecord()
	before := current.Clone()
	delta := &Record{
		Allergies:        []string{"sulfa"},
		Symptoms:         []Symptom{{Name: "Fever", Severity: "high grade", Associated: []string{"rigors"}}},
		SymptomKnownInfo: map[string]SymptomKnownInfo{"Fever": {Notes: []string{"evening spikes"}}},
	}
	deltaBefore := delta.Clone()

	merged := m.Merge(current, delta)
	merged.Allergies[0] = "changed"
	merged.Symptoms[0].Associated[0] = "changed"

	if !reflect.DeepEqual(current.Clone(), before) {
		t.Fatalf("current mutated by merge")
	}
	if !reflect.DeepEqual(delta.Clone(), deltaBefore) {
		t.Fatalf("delta mutated by merge")
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	m := newTestMerger()
	delta := &Record{
		Demographics:  Demographics{Sex: "female", Other: []string{"lives in Pune"}},
		Allergies:     []string{"sulfa", "Penicillin"},
		RedFlags:      []string{"neck stiffness"},
		Symptoms:      []Symptom{{Name: "headache", Character: "throbbing"}},
		Medications:   []Medication{{Name: "Paracetamol", Frequency: "twice daily"}},
		Vitals:        []VitalSign{{Name: "pulse", Value: "96"}},
		ReviewOfSystems: map[string][]string{
			"respiratory": {"no wheeze"},
			"neuro":       {"photophobia"},
		},
		IsolatedSymptoms: []SymptomFocus{{CanonicalName: "headache", Aliases: []string{"head pain"}, FirstSeenTurn: 5}},
		SymptomKnownInfo: map[string]SymptomKnownInfo{"headache": {Character: "throbbing", LastUpdatedTurn: 5}},
		SymptomKeywordState: map[string]SymptomKeywordState{
			"Fever": {AddressedKeywords: []string{"grade"}, NewKeywords: []string{"rigors"}, ActiveKeywords: []string{"pattern", "rigors"}},
		},
	}

	once := m.Merge(populatedRecord(), delta)
	twice := m.Merge(once, delta)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMergeSuppressesFuzzyDuplicates(t *testing.T) {
	m := newTestMerger()
	r := m.Merge(New(), &Record{PastMedicalHistory: []string{"type 2 diabetes"}})
	r = m.Merge(r, &Record{PastMedicalHistory: []string{"Type 2 diabetes."}})
	if len(r.PastMedicalHistory) != 1 {
		t.Fatalf("expected one entry, got %v", r.PastMedicalHistory)
	}

	r = m.Merge(r, &Record{Symptoms: []Symptom{{Name: "chest pain"}}})
	r = m.Merge(r, &Record{Symptoms: []Symptom{{Name: "Chest pains", Severity: "7/10"}}})
	if len(r.Symptoms) != 1 {
		t.Fatalf("expected one symptom, got %+v", r.Symptoms)
	}
	if r.Symptoms[0].Name != "chest pain" || r.Symptoms[0].Severity != "7/10" {
		t.Fatalf("unexpected merged symptom: %+v", r.Symptoms[0])
	}
}

func TestMergeNeverRegressesToEmpty(t *testing.T) {
	m := newTestMerger()
	current := populatedRecord()
	merged := m.Merge(current, &Record{
		Demographics: Demographics{Name: "  "},
		Symptoms:     []Symptom{{Name: "fever"}},
		Vitals:       []VitalSign{{Name: "Temperature", Value: ""}},
		SymptomKeywordState: map[string]SymptomKeywordState{
			"fever": {Symptom: "fever"},
		},
	})

	if merged.Demographics.Name != "Priya Sharma" || merged.Demographics.Age != "45 years" {
		t.Fatalf("demographics regressed: %+v", merged.Demographics)
	}
	if merged.ChiefComplaint != "fever" {
		t.Fatalf("chief complaint regressed: %q", merged.ChiefComplaint)
	}
	if !reflect.DeepEqual(merged.Allergies, current.Allergies) {
		t.Fatalf("allergies regressed: %v", merged.Allergies)
	}
	if merged.Symptoms[0].Duration != "3 days" {
		t.Fatalf("symptom duration regressed: %+v", merged.Symptoms[0])
	}
	if merged.Vitals[0].Value != "38.9 C" {
		t.Fatalf("vital regressed: %+v", merged.Vitals[0])
	}
	if got := merged.SymptomKeywordState["fever"].ActiveKeywords; !reflect.DeepEqual(got, []string{"grade", "pattern", "chills"}) {
		t.Fatalf("active keywords regressed: %v", got)
	}
}

func TestMergeChiefComplaintFallsBackToPrimary(t *testing.T) {
	m := newTestMerger()
	merged := m.Merge(New(), &Record{ChiefComplaintStructured: ChiefComplaint{Primary: "cough"}})
	if merged.ChiefComplaint != "cough" {
		t.Fatalf("expected primary to fill chief complaint, got %q", merged.ChiefComplaint)
	}

	merged = m.Merge(merged, &Record{ChiefComplaint: "productive cough"})
	if merged.ChiefComplaint != "productive cough" {
		t.Fatalf("expected delta chief complaint to win, got %q", merged.ChiefComplaint)
	}
}

func TestMergeCanonicalizesSymptomMapKeys(t *testing.T) {
	m := newTestMerger()
	merged := m.Merge(populatedRecord(), &Record{
		SymptomKnownInfo: map[string]SymptomKnownInfo{
			"Fever": {Severity: "39.5 C", Associated: []string{"Chills", "body ache"}, LastUpdatedTurn: 3},
		},
	})

	if len(merged.SymptomKnownInfo) != 1 {
		t.Fatalf("expected key reuse, got %v", merged.SymptomKnownInfo)
	}
	info := merged.SymptomKnownInfo["fever"]
	if info.Duration != "3 days" || info.Severity != "39.5 C" {
		t.Fatalf("unexpected scalars: %+v", info)
	}
	if !reflect.DeepEqual(info.Associated, []string{"chills", "body ache"}) {
		t.Fatalf("unexpected associated: %v", info.Associated)
	}
	if info.LastUpdatedTurn != 4 {
		t.Fatalf("last updated turn must not decrease: %d", info.LastUpdatedTurn)
	}
}

func TestMergeKeywordStateActiveCarryForward(t *testing.T) {
	m := newTestMerger()
	current := populatedRecord()

	kept := m.Merge(current, &Record{SymptomKeywordState: map[string]SymptomKeywordState{
		"fever": {AddressedKeywords: []string{"grade"}, NewKeywords: []string{"rigors"}},
	}})
	state := kept.SymptomKeywordState["fever"]
	if !reflect.DeepEqual(state.ActiveKeywords, []string{"grade", "pattern", "chills"}) {
		t.Fatalf("empty delta active must keep current, got %v", state.ActiveKeywords)
	}
	if !reflect.DeepEqual(state.AddressedKeywords, []string{"grade"}) || !reflect.DeepEqual(state.NewKeywords, []string{"rigors"}) {
		t.Fatalf("unexpected keyword lists: %+v", state)
	}
	if state.Priority != "high" {
		t.Fatalf("priority regressed: %q", state.Priority)
	}

	replaced := m.Merge(current, &Record{SymptomKeywordState: map[string]SymptomKeywordState{
		"Fever": {ActiveKeywords: []string{"pattern", "rigors"}, Priority: "medium"},
	}})
	state = replaced.SymptomKeywordState["fever"]
	if !reflect.DeepEqual(state.ActiveKeywords, []string{"pattern", "rigors"}) {
		t.Fatalf("non-empty delta active must replace, got %v", state.ActiveKeywords)
	}
	if state.Priority != "medium" {
		t.Fatalf("unexpected priority: %q", state.Priority)
	}
}

func TestCarryForwardKeywords(t *testing.T) {
	m := NewMatcher(DefaultThreshold)
	got := m.CarryForwardKeywords(
		[]string{"grade", "pattern", "chills"},
		[]string{"grade", "chills"},
		[]string{"rigors"},
	)
	if !reflect.DeepEqual(got, []string{"pattern", "rigors"}) {
		t.Fatalf("unexpected active keywords: %v", got)
	}

	for _, k := range got {
		if m.Addressed(k, []string{"grade", "chills"}) {
			t.Fatalf("addressed keyword %q survived", k)
		}
	}
}

func TestCarryForwardKeywordsFoldsCaseAndFuzzyAddressed(t *testing.T) {
	m := NewMatcher(DefaultThreshold)
	got := m.CarryForwardKeywords(
		[]string{"Duration", "photophobia"},
		[]string{"durations"},
		[]string{"PHOTOPHOBIA", "aura", " "},
	)
	if !reflect.DeepEqual(got, []string{"photophobia", "aura"}) {
		t.Fatalf("unexpected active keywords: %v", got)
	}
}

func TestMergeIsolatedSymptoms(t *testing.T) {
	m := newTestMerger()
	merged := m.Merge(populatedRecord(), &Record{IsolatedSymptoms: []SymptomFocus{
		{CanonicalName: "Fever", Aliases: []string{"febrile", "pyrexia"}, FirstSeenTurn: 1, Priority: "high"},
		{CanonicalName: "cough", FirstSeenTurn: 3},
	}})

	if len(merged.IsolatedSymptoms) != 2 {
		t.Fatalf("unexpected foci: %+v", merged.IsolatedSymptoms)
	}
	fever := merged.IsolatedSymptoms[0]
	if fever.CanonicalName != "fever" || fever.FirstSeenTurn != 1 || fever.Priority != "high" {
		t.Fatalf("unexpected fever focus: %+v", fever)
	}
	if !reflect.DeepEqual(fever.Aliases, []string{"pyrexia", "febrile"}) {
		t.Fatalf("unexpected aliases: %v", fever.Aliases)
	}

	unset := m.Merge(merged, &Record{IsolatedSymptoms: []SymptomFocus{{CanonicalName: "fever"}}})
	if unset.IsolatedSymptoms[0].FirstSeenTurn != 1 || unset.IsolatedSymptoms[0].Priority != "high" {
		t.Fatalf("unset fields overwrote focus: %+v", unset.IsolatedSymptoms[0])
	}
}

func TestMergeCompoundsDeltasInArrivalOrder(t *testing.T) {
	m := newTestMerger()
	merged := m.Merge(New(), &Record{Symptoms: []Symptom{
		{Name: "cough", Character: "dry"},
		{Name: "Cough", Character: "productive", Associated: []string{"yellow sputum"}},
		{Name: "coughs", Duration: "2 weeks"},
	}})

	if len(merged.Symptoms) != 1 {
		t.Fatalf("expected compounding into one symptom, got %+v", merged.Symptoms)
	}
	s := merged.Symptoms[0]
	if s.Character != "productive" || s.Duration != "2 weeks" || len(s.Associated) != 1 {
		t.Fatalf("unexpected compounded symptom: %+v", s)
	}
}

func TestMergeVitalsAndMedications(t *testing.T) {
	m := newTestMerger()
	merged := m.Merge(populatedRecord(), &Record{
		Vitals:      []VitalSign{{Name: "Temperature", Value: "37.8 C"}, {Name: "BP", Value: "120/80"}},
		Medications: []Medication{{Name: "Paracetamol", Dose: "650 mg", Frequency: "tds"}, {Name: "cetirizine"}},
	})

	if len(merged.Vitals) != 2 || merged.Vitals[0].Value != "37.8 C" {
		t.Fatalf("unexpected vitals: %+v", merged.Vitals)
	}
	if len(merged.Medications) != 2 {
		t.Fatalf("unexpected medications: %+v", merged.Medications)
	}
	if med := merged.Medications[0]; med.Name != "paracetamol" || med.Dose != "650 mg" || med.Frequency != "tds" {
		t.Fatalf("unexpected medication merge: %+v", med)
	}
}

func TestEmptyRecordSnapshotRendersEmptyCollections(t *testing.T) {
	raw, err := json.Marshal(New())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	body := string(raw)
	for _, fragment := range []string{`"symptoms":[]`, `"symptom_known_info":{}`, `"other":[]`} {
		if !strings.Contains(body, fragment) {
			t.Fatalf("snapshot missing %s: %s", fragment, body)
		}
	}
}
