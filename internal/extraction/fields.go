package extraction

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"credential_verifier/internal/model"
)

var (
	licenseLabelRe = regexp.MustCompile(`(?i)\b(?:licen[cs]e|registration|reg\.|permit|rpps|adeli|npi|certificate)\s*(?:no\.?|number|n[o°º]\.?|#)?\s*[:#\-]?\s*([A-Z0-9][A-Z0-9\-/.]{2,24}[A-Z0-9])`)
	dateKeywordRe  = regexp.MustCompile(`(?i)(graduat|awarded|conferred|issued|d[ée]livr|date|on this|dipl[oô]m)`)

	isoDateRe       = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	numericDateRe   = regexp.MustCompile(`\b(\d{1,2})[./](\d{1,2})[./](\d{4})\b`)
	monthFirstRe    = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dayFirstMonthRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{4})\b`)
)

const maxInstitutionRunes = 200

var institutionKeywords = []string{
	"universit", "universidad", "faculty", "faculté", "facultad", "institut",
	"college", "collège", "school of", "école", "ecole", "academy", "académie", "hochschule",
}

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// SpecialtyKeywords - словарь специальностей и их синонимов, по которому ищутся упоминания в тексте диплома
var SpecialtyKeywords = map[string][]string{
	"cardiology":        {"cardiology", "cardiologist", "cardiologie", "cardiovascular"},
	"dermatology":       {"dermatology", "dermatologist", "dermatologie"},
	"general medicine":  {"general medicine", "general practice", "médecine générale", "doctor of medicine", "medical doctor"},
	"pediatrics":        {"pediatrics", "paediatrics", "pédiatrie", "pediatrician"},
	"psychiatry":        {"psychiatry", "psychiatrist", "psychiatrie"},
	"psychology":        {"psychology", "psychologist", "psychologie"},
	"nutrition":         {"nutrition", "nutritionist", "dietetics", "dietitian", "diététique", "diététicien"},
	"sports coaching":   {"sports coaching", "coaching", "coach", "physical education", "sport science", "staps"},
	"physiotherapy":     {"physiotherapy", "physiotherapist", "kinésithérapie", "physical therapy"},
	"endocrinology":     {"endocrinology", "endocrinologist", "endocrinologie", "diabetology"},
	"gynecology":        {"gynecology", "gynaecology", "gynécologie", "obstetrics"},
	"neurology":         {"neurology", "neurologist", "neurologie"},
	"ophthalmology":     {"ophthalmology", "ophthalmologist", "ophtalmologie"},
	"orthopedics":       {"orthopedics", "orthopaedics", "orthopédie"},
	"radiology":         {"radiology", "radiologist", "radiologie"},
	"general surgery":   {"surgery", "surgeon", "chirurgie"},
	"dentistry":         {"dentistry", "dental surgery", "odontologie", "dentist"},
	"pharmacy":          {"pharmacy", "pharmacist", "pharmacie"},
	"nursing":           {"nursing", "registered nurse", "infirmier"},
	"internal medicine": {"internal medicine", "médecine interne", "internist"},
}

// NormalizeLicense оставляет только буквы и цифры в верхнем регистре
func NormalizeLicense(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// ParseFields ищет в тексте номер лицензии, учебное заведение, дату выпуска и специальности.
// Результат детерминирован для одного и того же текста.
func ParseFields(text string) model.ExtractedFields {
	var fields model.ExtractedFields
	if strings.TrimSpace(text) == "" {
		return fields
	}

	fields.LicenseCandidates = licenseCandidates(text)
	if len(fields.LicenseCandidates) > 0 {
		fields.LicenseNumber = fields.LicenseCandidates[0]
	}
	fields.Institution = findInstitution(text)
	fields.GraduationDate = findGraduationDate(text)
	fields.SpecialtyHits = findSpecialties(text)
	return fields
}

func licenseCandidates(text string) []string {
	seen := make(map[string]bool)
	var candidates []string
	for _, m := range licenseLabelRe.FindAllStringSubmatch(text, -1) {
		if isoDateRe.MatchString(m[1]) || numericDateRe.MatchString(m[1]) {
			continue
		}
		token := NormalizeLicense(m[1])
		if len(token) < 4 || !strings.ContainsAny(token, "0123456789") || seen[token] {
			continue
		}
		seen[token] = true
		candidates = append(candidates, token)
	}
	return candidates
}

func findInstitution(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !containsAny(strings.ToLower(line), institutionKeywords) {
			continue
		}
		return truncateRunes(strings.Join(strings.Fields(line), " "), maxInstitutionRunes)
	}
	return ""
}

// truncateRunes обрезает строку по границе символа, а не байта
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func findGraduationDate(text string) string {
	lines := strings.Split(text, "\n")
	// Сначала строки с ключевыми словами ("awarded", "graduated", ...), потом весь текст
	for _, line := range lines {
		if dateKeywordRe.MatchString(line) {
			if d, ok := firstDate(line); ok {
				return d.Format("2006-01-02")
			}
		}
	}
	if d, ok := firstDate(text); ok {
		return d.Format("2006-01-02")
	}
	return ""
}

func firstDate(s string) (time.Time, bool) {
	type hit struct {
		pos  int
		date time.Time
	}
	var hits []hit

	for _, m := range isoDateRe.FindAllStringSubmatchIndex(s, -1) {
		if d, ok := buildDate(s[m[2]:m[3]], s[m[4]:m[5]], s[m[6]:m[7]]); ok {
			hits = append(hits, hit{m[0], d})
		}
	}
	for _, m := range numericDateRe.FindAllStringSubmatchIndex(s, -1) {
		if d, ok := buildDate(s[m[6]:m[7]], s[m[4]:m[5]], s[m[2]:m[3]]); ok {
			hits = append(hits, hit{m[0], d})
		}
	}
	for _, m := range monthFirstRe.FindAllStringSubmatchIndex(s, -1) {
		month := strconv.Itoa(int(months[strings.ToLower(s[m[2]:m[3]])]))
		if d, ok := buildDate(s[m[6]:m[7]], month, s[m[4]:m[5]]); ok {
			hits = append(hits, hit{m[0], d})
		}
	}
	for _, m := range dayFirstMonthRe.FindAllStringSubmatchIndex(s, -1) {
		month := strconv.Itoa(int(months[strings.ToLower(s[m[4]:m[5]])]))
		if d, ok := buildDate(s[m[6]:m[7]], month, s[m[2]:m[3]]); ok {
			hits = append(hits, hit{m[0], d})
		}
	}

	if len(hits) == 0 {
		return time.Time{}, false
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	return hits[0].date, true
}

func buildDate(year, month, day string) (time.Time, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}, false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// 31.02 и подобные даты time.Date нормализует в следующий месяц
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

func findSpecialties(text string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for specialty, keywords := range SpecialtyKeywords {
		if containsAny(lower, keywords) {
			hits = append(hits, specialty)
		}
	}
	sort.Strings(hits)
	return hits
}
