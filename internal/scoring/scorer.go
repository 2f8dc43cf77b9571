package scoring

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"credential_verifier/internal/extraction"
	"credential_verifier/internal/model"

	"github.com/agnivade/levenshtein"
)

const (
	maxLicenseScore     = 40
	maxSpecialtyScore   = 20
	maxInstitutionScore = 20
	maxDateScore        = 10
	maxLayoutScore      = 10

	minInTextLicenseLength = 6
	minTextLength          = 40
	maxGarbageRatio        = 0.3
	earliestGraduationYear = 1950
)

const (
	IndicatorLicenseMismatch  = "license_mismatch"
	IndicatorDateInFuture     = "date_in_future"
	IndicatorDateImplausible  = "date_implausible"
	IndicatorTextTooShort     = "text_too_short"
	IndicatorGarbledText      = "garbled_text"
	IndicatorMultipleLicenses = "multiple_license_numbers"
	IndicatorEditedWithEditor = "edited_with_image_editor"
)

// Отсутствующие разделы документа. Попадают в индикаторы, но штрафа не дают:
// балл за раздел и так равен нулю.
const (
	IndicatorMissingLicense     = "missing_license_number"
	IndicatorMissingSpecialty   = "missing_specialty"
	IndicatorMissingInstitution = "missing_institution"
	IndicatorMissingDate        = "missing_graduation_date"
	IndicatorMissingWording     = "missing_diploma_wording"
)

var layoutKeywords = []string{
	"diploma", "diplôme", "degree", "awarded", "hereby", "certify", "certifies",
	"doctor of", "bachelor", "master", "conferred", "graduated",
}

var imageEditors = []string{"photoshop", "gimp", "paint", "canva", "pixelmator", "affinity photo", "inkscape"}

const allowedPunctuation = ".,:;-'/()°#&\"«»’"

// Claim - данные, заявленные специалистом при загрузке диплома
type Claim struct {
	LicenseNumber string
	Specialty     string
}

type Scorer interface {
	Score(claim Claim, result *model.ExtractionResult) *model.ScoreResult
}

type Options struct {
	AnomalyPenalty    int
	KnownInstitutions []string
	Now               func() time.Time
}

type scorer struct {
	penalty           int
	knownInstitutions []string
	now               func() time.Time
}

func NewScorer(opts Options) Scorer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	known := make([]string, 0, len(opts.KnownInstitutions))
	for _, inst := range opts.KnownInstitutions {
		if inst = strings.ToLower(strings.TrimSpace(inst)); inst != "" {
			known = append(known, inst)
		}
	}
	return &scorer{
		penalty:           opts.AnomalyPenalty,
		knownInstitutions: known,
		now:               now,
	}
}

type scoreState struct {
	subScores  map[string]int
	indicators []model.ForgeryIndicator
	anomalies  int
	notes      []string
	details    map[string]any
}

func (s *scoreState) anomaly(code, reason string) {
	s.indicators = append(s.indicators, model.ForgeryIndicator{Code: code, Reason: reason})
	s.anomalies++
}

func (s *scoreState) missing(code, reason string) {
	s.indicators = append(s.indicators, model.ForgeryIndicator{Code: code, Reason: reason})
}

func (s *scoreState) note(format string, args ...any) {
	s.notes = append(s.notes, fmt.Sprintf(format, args...))
}

// Score считает независимые подоценки и сводит их в итоговый балл 0-100.
// Каждая аномалия добавляет индикатор подделки и снижает балл на penalty.
// Точное совпадение лицензии без единого индикатора дает не меньше 80.
func (s *scorer) Score(claim Claim, result *model.ExtractionResult) *model.ScoreResult {
	state := &scoreState{
		subScores: map[string]int{
			"license":         0,
			"specialty":       0,
			"institution":     0,
			"graduation_date": 0,
			"layout":          0,
		},
		details: make(map[string]any),
	}

	if result.Empty() {
		if result != nil && result.Error != "" {
			state.details["extraction_error"] = result.Error
		}
		state.note("no text could be extracted from the document")
		return state.finish(0)
	}

	text := result.Text
	lower := strings.ToLower(text)

	state.subScores["license"] = s.scoreLicense(state, claim.LicenseNumber, result)
	state.subScores["specialty"] = scoreSpecialty(state, claim.Specialty, lower)
	state.subScores["institution"] = s.scoreInstitution(state, result.Fields.Institution)
	state.subScores["graduation_date"] = s.scoreDate(state, result.Fields.GraduationDate)
	state.subScores["layout"] = scoreLayout(state, text, lower, result)

	total := 0
	for _, v := range state.subScores {
		total += v
	}
	total -= s.penalty * state.anomalies
	return state.finish(total)
}

func (s *scoreState) finish(total int) *model.ScoreResult {
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	if s.indicators == nil {
		s.indicators = []model.ForgeryIndicator{}
	}
	if len(s.notes) > 0 {
		s.details["notes"] = s.notes
	}
	return &model.ScoreResult{
		Score:      total,
		SubScores:  s.subScores,
		Indicators: s.indicators,
		Details:    s.details,
	}
}

func (s *scorer) scoreLicense(state *scoreState, claimedRaw string, result *model.ExtractionResult) int {
	claimed := extraction.NormalizeLicense(claimedRaw)
	if claimed == "" {
		state.note("no license number was claimed")
		return 0
	}

	candidates := result.Fields.LicenseCandidates
	for _, c := range candidates {
		if c == claimed {
			state.details["license_match"] = "exact"
			return maxLicenseScore
		}
	}

	if len(claimed) >= minInTextLicenseLength && strings.Contains(extraction.NormalizeLicense(result.Text), claimed) {
		state.details["license_match"] = "found_in_text"
		return maxLicenseScore
	}

	if len(candidates) == 0 {
		state.details["license_match"] = "none"
		state.missing(IndicatorMissingLicense, "license number not found in document")
		return 0
	}

	best, bestCandidate := -1, ""
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(claimed, c)
		if best < 0 || d < best {
			best, bestCandidate = d, c
		}
	}
	state.details["license_distance"] = best

	switch best {
	case 1:
		state.details["license_match"] = "fuzzy"
		return 30
	case 2:
		state.details["license_match"] = "fuzzy"
		return 15
	}

	state.details["license_match"] = "mismatch"
	state.anomaly(IndicatorLicenseMismatch,
		fmt.Sprintf("license number on document (%s) does not match claimed number (%s)", bestCandidate, claimed))
	return 0
}

func scoreSpecialty(state *scoreState, claimedRaw, lowerText string) int {
	claimed := strings.ToLower(strings.TrimSpace(claimedRaw))
	if claimed == "" {
		state.note("no specialty was claimed")
		return 0
	}
	if strings.Contains(lowerText, claimed) {
		state.details["specialty_match"] = "exact"
		return maxSpecialtyScore
	}

	for specialty, keywords := range extraction.SpecialtyKeywords {
		if specialty != claimed && !containsKeyword(keywords, claimed) {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(lowerText, kw) {
				state.details["specialty_match"] = "synonym"
				return 15
			}
		}
	}

	state.details["specialty_match"] = "none"
	state.missing(IndicatorMissingSpecialty, fmt.Sprintf("specialty %q is not mentioned in the document", claimedRaw))
	return 0
}

func containsKeyword(keywords []string, s string) bool {
	for _, kw := range keywords {
		if kw == s {
			return true
		}
	}
	return false
}

func (s *scorer) scoreInstitution(state *scoreState, institution string) int {
	if institution == "" {
		state.missing(IndicatorMissingInstitution, "no issuing institution found")
		return 0
	}
	lower := strings.ToLower(institution)
	for _, known := range s.knownInstitutions {
		if strings.Contains(lower, known) {
			state.details["institution_match"] = "known"
			return maxInstitutionScore
		}
	}
	state.details["institution_match"] = "plausible"
	return maxInstitutionScore / 2
}

func (s *scorer) scoreDate(state *scoreState, graduationDate string) int {
	if graduationDate == "" {
		state.missing(IndicatorMissingDate, "no graduation date found")
		return 0
	}
	date, err := time.Parse("2006-01-02", graduationDate)
	if err != nil {
		state.missing(IndicatorMissingDate, fmt.Sprintf("graduation date %q could not be parsed", graduationDate))
		return 0
	}

	if date.After(s.now()) {
		state.anomaly(IndicatorDateInFuture, fmt.Sprintf("graduation date %s is in the future", graduationDate))
		return 0
	}
	if date.Year() < earliestGraduationYear {
		state.anomaly(IndicatorDateImplausible, fmt.Sprintf("graduation date %s is implausibly old", graduationDate))
		return 0
	}
	return maxDateScore
}

func scoreLayout(state *scoreState, text, lowerText string, result *model.ExtractionResult) int {
	hits := 0
	for _, kw := range layoutKeywords {
		if strings.Contains(lowerText, kw) {
			hits++
		}
	}
	state.details["layout_keywords"] = hits

	if len([]rune(text)) < minTextLength {
		state.anomaly(IndicatorTextTooShort, "extracted text is too short for a diploma")
	}
	if ratio := garbageRatio(text); ratio > maxGarbageRatio {
		state.anomaly(IndicatorGarbledText, fmt.Sprintf("%.0f%% of characters are unreadable, the document may be altered", ratio*100))
	}
	if n := len(result.Fields.LicenseCandidates); n > 1 {
		state.anomaly(IndicatorMultipleLicenses, fmt.Sprintf("document contains %d different license numbers", n))
	}
	for _, key := range []string{"producer", "creator"} {
		value := strings.ToLower(result.Metadata[key])
		for _, editor := range imageEditors {
			if value != "" && strings.Contains(value, editor) {
				state.anomaly(IndicatorEditedWithEditor, fmt.Sprintf("document %s is %q", key, result.Metadata[key]))
				break
			}
		}
	}

	switch {
	case hits >= 2:
		return maxLayoutScore
	case hits == 1:
		return maxLayoutScore / 2
	}
	state.missing(IndicatorMissingWording, "document has none of the expected diploma wording")
	return 0
}

func garbageRatio(text string) float64 {
	total, garbage := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(allowedPunctuation, r) {
			continue
		}
		garbage++
	}
	if total == 0 {
		return 0
	}
	return float64(garbage) / float64(total)
}
