package encounter

import "strings"

// Merger reconciles extraction deltas into a Record.
type Merger struct {
	matcher Matcher
}

func NewMerger(m Matcher) *Merger {
	return &Merger{matcher: m}
}

func (m *Merger) Matcher() Matcher {
	return m.matcher
}

// Merge returns current with delta folded in. Neither argument is modified,
// so readers holding current keep a valid record. Empty delta fields never
// overwrite populated ones.
func (m *Merger) Merge(current, delta *Record) *Record {
	out := current.Clone()
	if delta == nil {
		return out
	}
	d := delta.Clone()

	out.Demographics = m.mergeDemographics(out.Demographics, d.Demographics)
	out.ChiefComplaintStructured = m.mergeChiefComplaint(out.ChiefComplaintStructured, d.ChiefComplaintStructured)
	if present(d.ChiefComplaint) {
		out.ChiefComplaint = d.ChiefComplaint
	} else if !present(out.ChiefComplaint) && present(out.ChiefComplaintStructured.Primary) {
		out.ChiefComplaint = out.ChiefComplaintStructured.Primary
	}
	out.HistoryOfPresentIllness = pick(out.HistoryOfPresentIllness, d.HistoryOfPresentIllness)

	out.Symptoms = m.mergeSymptoms(out.Symptoms, d.Symptoms)
	out.PastMedicalHistory = m.matcher.DedupAppend(out.PastMedicalHistory, d.PastMedicalHistory)
	out.Medications = m.mergeMedications(out.Medications, d.Medications)
	out.Allergies = m.matcher.DedupAppend(out.Allergies, d.Allergies)
	out.FamilyHistory = m.matcher.DedupAppend(out.FamilyHistory, d.FamilyHistory)
	out.SocialHistory = m.matcher.DedupAppend(out.SocialHistory, d.SocialHistory)
	out.PhysicalExamFindings = m.matcher.DedupAppend(out.PhysicalExamFindings, d.PhysicalExamFindings)
	out.DomainsCovered = m.matcher.DedupAppend(out.DomainsCovered, d.DomainsCovered)
	out.RedFlags = m.matcher.DedupAppend(out.RedFlags, d.RedFlags)
	out.IsolatedSymptoms = m.mergeFocuses(out.IsolatedSymptoms, d.IsolatedSymptoms)

	out.Vitals = m.mergeVitals(out.Vitals, d.Vitals)
	out.ReviewOfSystems = m.mergeReviewOfSystems(out.ReviewOfSystems, d.ReviewOfSystems)
	out.SymptomKnownInfo = m.mergeKnownInfoMap(out.SymptomKnownInfo, d.SymptomKnownInfo)
	out.SymptomKeywordState = m.mergeKeywordStateMap(out.SymptomKeywordState, d.SymptomKeywordState)
	return out
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

// pick keeps current unless the delta carries a value.
func pick(current, delta string) string {
	if present(delta) {
		return delta
	}
	return current
}

func (m *Merger) mergeDemographics(cur, d Demographics) Demographics {
	return Demographics{
		Name:  pick(cur.Name, d.Name),
		Age:   pick(cur.Age, d.Age),
		Sex:   pick(cur.Sex, d.Sex),
		Other: m.matcher.DedupAppend(cur.Other, d.Other),
	}
}

func (m *Merger) mergeChiefComplaint(cur, d ChiefComplaint) ChiefComplaint {
	return ChiefComplaint{
		Primary:         pick(cur.Primary, d.Primary),
		Duration:        pick(cur.Duration, d.Duration),
		Onset:           pick(cur.Onset, d.Onset),
		Site:            pick(cur.Site, d.Site),
		Character:       pick(cur.Character, d.Character),
		Radiation:       pick(cur.Radiation, d.Radiation),
		Severity:        pick(cur.Severity, d.Severity),
		TimeCourse:      pick(cur.TimeCourse, d.TimeCourse),
		Characteristics: m.matcher.DedupAppend(cur.Characteristics, d.Characteristics),
		Associated:      m.matcher.DedupAppend(cur.Associated, d.Associated),
		Aggravating:     m.matcher.DedupAppend(cur.Aggravating, d.Aggravating),
		Relieving:       m.matcher.DedupAppend(cur.Relieving, d.Relieving),
	}
}

// mergeSymptoms matches by name and keeps the first-seen name on a hit.
func (m *Merger) mergeSymptoms(cur, delta []Symptom) []Symptom {
	for _, ns := range delta {
		if !present(ns.Name) {
			continue
		}
		i := indexOf(cur, func(s Symptom) bool { return m.matcher.Duplicate(ns.Name, s.Name) })
		if i < 0 {
			cur = append(cur, ns.clone())
			continue
		}
		es := cur[i]
		cur[i] = Symptom{
			Name:        es.Name,
			Duration:    pick(es.Duration, ns.Duration),
			Severity:    pick(es.Severity, ns.Severity),
			Character:   pick(es.Character, ns.Character),
			Location:    pick(es.Location, ns.Location),
			Onset:       pick(es.Onset, ns.Onset),
			Radiation:   pick(es.Radiation, ns.Radiation),
			TimeCourse:  pick(es.TimeCourse, ns.TimeCourse),
			Aggravating: m.matcher.DedupAppend(es.Aggravating, ns.Aggravating),
			Relieving:   m.matcher.DedupAppend(es.Relieving, ns.Relieving),
			Associated:  m.matcher.DedupAppend(es.Associated, ns.Associated),
		}
	}
	return cur
}

func (m *Merger) mergeMedications(cur, delta []Medication) []Medication {
	for _, nm := range delta {
		if !present(nm.Name) {
			continue
		}
		i := indexOf(cur, func(e Medication) bool { return m.matcher.Duplicate(nm.Name, e.Name) })
		if i < 0 {
			cur = append(cur, nm)
			continue
		}
		cur[i].Dose = pick(cur[i].Dose, nm.Dose)
		cur[i].Frequency = pick(cur[i].Frequency, nm.Frequency)
	}
	return cur
}

// mergeVitals keeps the latest reading per vital sign.
func (m *Merger) mergeVitals(cur, delta []VitalSign) []VitalSign {
	for _, nv := range delta {
		if !present(nv.Name) {
			continue
		}
		i := indexOf(cur, func(e VitalSign) bool { return m.matcher.Duplicate(nv.Name, e.Name) })
		if i < 0 {
			cur = append(cur, nv)
			continue
		}
		cur[i].Value = pick(cur[i].Value, nv.Value)
	}
	return cur
}

func (m *Merger) mergeReviewOfSystems(cur, delta map[string][]string) map[string][]string {
	for _, system := range sortedKeys(delta) {
		merged := m.matcher.DedupAppend(cur[system], delta[system])
		if _, ok := cur[system]; !ok && len(merged) == 0 {
			continue
		}
		cur[system] = merged
	}
	return cur
}

func (m *Merger) mergeFocuses(cur, delta []SymptomFocus) []SymptomFocus {
	for _, ns := range delta {
		if !present(ns.CanonicalName) {
			continue
		}
		i := indexOf(cur, func(e SymptomFocus) bool { return m.matcher.Duplicate(ns.CanonicalName, e.CanonicalName) })
		if i < 0 {
			cur = append(cur, ns.clone())
			continue
		}
		es := cur[i]
		cur[i] = SymptomFocus{
			CanonicalName: es.CanonicalName,
			Aliases:       m.matcher.DedupAppend(es.Aliases, ns.Aliases),
			FirstSeenTurn: minPresent(es.FirstSeenTurn, ns.FirstSeenTurn),
			Priority:      pick(es.Priority, ns.Priority),
		}
	}
	return cur
}

// minPresent returns the smaller of two turn numbers, ignoring unset (<=0) ones.
func minPresent(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case b < a:
		return b
	default:
		return a
	}
}

// MergeKnownInfo folds one known-info delta into the current record for the
// same symptom.
func (m *Merger) MergeKnownInfo(cur, d SymptomKnownInfo) SymptomKnownInfo {
	return SymptomKnownInfo{
		Duration:        pick(cur.Duration, d.Duration),
		Onset:           pick(cur.Onset, d.Onset),
		Location:        pick(cur.Location, d.Location),
		Character:       pick(cur.Character, d.Character),
		Radiation:       pick(cur.Radiation, d.Radiation),
		Severity:        pick(cur.Severity, d.Severity),
		TimeCourse:      pick(cur.TimeCourse, d.TimeCourse),
		Associated:      m.matcher.DedupAppend(cur.Associated, d.Associated),
		Aggravating:     m.matcher.DedupAppend(cur.Aggravating, d.Aggravating),
		Relieving:       m.matcher.DedupAppend(cur.Relieving, d.Relieving),
		Negatives:       m.matcher.DedupAppend(cur.Negatives, d.Negatives),
		RedFlags:        m.matcher.DedupAppend(cur.RedFlags, d.RedFlags),
		Notes:           m.matcher.DedupAppend(cur.Notes, d.Notes),
		LastUpdatedTurn: max(cur.LastUpdatedTurn, d.LastUpdatedTurn),
	}
}

// MergeKeywordState folds a keyword update into the current state. Active
// keywords are carried forward untouched unless the update brings its own
// non-empty active list, which then replaces them.
func (m *Merger) MergeKeywordState(cur, d SymptomKeywordState) SymptomKeywordState {
	active := cloneStrings(cur.ActiveKeywords)
	if len(d.ActiveKeywords) > 0 {
		active = cloneStrings(d.ActiveKeywords)
	}
	return SymptomKeywordState{
		Symptom:           pick(cur.Symptom, d.Symptom),
		AddressedKeywords: m.matcher.DedupAppend(cur.AddressedKeywords, d.AddressedKeywords),
		NewKeywords:       m.matcher.DedupAppend(cur.NewKeywords, d.NewKeywords),
		ActiveKeywords:    active,
		Rationale:         pick(cur.Rationale, d.Rationale),
		Priority:          pick(cur.Priority, d.Priority),
	}
}

func (m *Merger) mergeKnownInfoMap(cur, delta map[string]SymptomKnownInfo) map[string]SymptomKnownInfo {
	keys := IndexKeys(m.matcher, cur)
	for _, key := range sortedKeys(delta) {
		incoming := delta[key]
		if existing, ok := keys.Resolve(key); ok {
			cur[existing] = m.MergeKnownInfo(cur[existing], incoming)
			continue
		}
		keys.Register(key)
		cur[key] = incoming.clone()
	}
	return cur
}

func (m *Merger) mergeKeywordStateMap(cur, delta map[string]SymptomKeywordState) map[string]SymptomKeywordState {
	keys := IndexKeys(m.matcher, cur)
	for _, key := range sortedKeys(delta) {
		incoming := delta[key]
		if existing, ok := keys.Resolve(key); ok {
			cur[existing] = m.MergeKeywordState(cur[existing], incoming)
			continue
		}
		keys.Register(key)
		cur[key] = incoming.clone()
	}
	return cur
}

// Addressed reports whether keyword was covered by any of addressed, either
// case-insensitively or as a fuzzy duplicate.
func (m Matcher) Addressed(keyword string, addressed []string) bool {
	k := strings.ToLower(strings.TrimSpace(keyword))
	if k == "" {
		return false
	}
	for _, a := range addressed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if a == k || m.Duplicate(a, k) {
			return true
		}
	}
	return false
}

// CarryForwardKeywords computes the next active list for a symptom: previous
// active keywords that were not addressed, then fresh keywords that were not
// addressed, de-duplicated case-insensitively.
func (m Matcher) CarryForwardKeywords(previous, addressed, fresh []string) []string {
	active := []string{}
	seen := map[string]struct{}{}
	add := func(keyword string) {
		cleaned := strings.TrimSpace(keyword)
		lowered := strings.ToLower(cleaned)
		if cleaned == "" || m.Addressed(cleaned, addressed) {
			return
		}
		if _, ok := seen[lowered]; ok {
			return
		}
		seen[lowered] = struct{}{}
		active = append(active, cleaned)
	}
	for _, k := range previous {
		add(k)
	}
	for _, k := range fresh {
		add(k)
	}
	return active
}

// UniqueFold de-duplicates keywords case-insensitively, dropping blanks and
// keeping first occurrences.
func UniqueFold(keywords []string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, k := range keywords {
		cleaned := strings.TrimSpace(k)
		lowered := strings.ToLower(cleaned)
		if cleaned == "" {
			continue
		}
		if _, ok := seen[lowered]; ok {
			continue
		}
		seen[lowered] = struct{}{}
		out = append(out, cleaned)
	}
	return out
}

func indexOf[T any](list []T, match func(T) bool) int {
	for i, v := range list {
		if match(v) {
			return i
		}
	}
	return -1
}

// SortedKeys lists map keys in lexical order.
func SortedKeys[V any](mapping map[string]V) []string {
	return sortedKeys(mapping)
}
