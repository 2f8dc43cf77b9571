package model

import "strings"

const (
	ExtractionMethodPDF   = "pdf_text"
	ExtractionMethodOCR   = "ocr"
	ExtractionMethodPlain = "plain_text"
	ExtractionMethodNone  = "none"
)

type ExtractedFields struct {
	LicenseNumber     string   `json:"license_number,omitempty"`
	LicenseCandidates []string `json:"license_candidates,omitempty"`
	Institution       string   `json:"institution,omitempty"`
	GraduationDate    string   `json:"graduation_date,omitempty"`
	SpecialtyHits     []string `json:"specialty_hits,omitempty"`
}

type ExtractionResult struct {
	Text         string            `json:"text"`
	MimeType     string            `json:"mime_type"`
	Method       string            `json:"method"`
	Fields       ExtractedFields   `json:"fields"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	DocumentHash string            `json:"document_hash,omitempty"`
	Error        string            `json:"error,omitempty"`
}

func (r *ExtractionResult) Empty() bool {
	return r == nil || strings.TrimSpace(r.Text) == ""
}

// AsMap возвращает данные для поля extracted_data
func (r *ExtractionResult) AsMap() map[string]any {
	if r == nil {
		return map[string]any{}
	}
	data := map[string]any{
		"method":    r.Method,
		"mime_type": r.MimeType,
		"text":      r.Text,
	}
	if r.Fields.LicenseNumber != "" {
		data["license_number"] = r.Fields.LicenseNumber
	}
	if len(r.Fields.LicenseCandidates) > 0 {
		data["license_candidates"] = r.Fields.LicenseCandidates
	}
	if r.Fields.Institution != "" {
		data["institution"] = r.Fields.Institution
	}
	if r.Fields.GraduationDate != "" {
		data["graduation_date"] = r.Fields.GraduationDate
	}
	if len(r.Fields.SpecialtyHits) > 0 {
		data["specialty_hits"] = r.Fields.SpecialtyHits
	}
	if len(r.Metadata) > 0 {
		data["metadata"] = r.Metadata
	}
	if r.DocumentHash != "" {
		data["document_hash"] = r.DocumentHash
	}
	if r.Error != "" {
		data["error"] = r.Error
	}
	return data
}

type ScoreResult struct {
	Score      int                `json:"score"`
	SubScores  map[string]int     `json:"sub_scores"`
	Indicators []ForgeryIndicator `json:"indicators"`
	Details    map[string]any     `json:"details"`
}
