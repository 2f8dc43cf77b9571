package model

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusVerified     Status = "verified"
	StatusRejected     Status = "rejected"
	StatusManualReview Status = "manual_review"
)

var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusVerified,
	StatusRejected,
	StatusManualReview,
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusVerified, StatusRejected, StatusManualReview:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown verification status %q", s)
}

func (s Status) String() string {
	return string(s)
}

// IsTerminal сообщает, что запись больше не может меняться автоматически
func (s Status) IsTerminal() bool {
	switch s {
	case StatusVerified, StatusRejected:
		return true
	case StatusPending, StatusProcessing, StatusManualReview:
		return false
	}
	return false
}

// CanTransitionTo проверяет переход по машине состояний верификации.
// Переходы в verified/rejected из pending и manual_review выполняет только администратор.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusVerified || next == StatusRejected
	case StatusProcessing:
		return next == StatusVerified || next == StatusRejected || next == StatusManualReview
	case StatusManualReview:
		return next == StatusProcessing || next == StatusVerified || next == StatusRejected
	case StatusVerified, StatusRejected:
		return false
	}
	return false
}

// StatusFilter используется в админском дашборде
type StatusFilter string

const StatusFilterAll StatusFilter = "all"

func ParseStatusFilter(s string) (StatusFilter, error) {
	if s == "" || s == string(StatusFilterAll) {
		return StatusFilterAll, nil
	}
	status, err := ParseStatus(s)
	if err != nil {
		return "", fmt.Errorf("invalid status filter: %w", err)
	}
	return StatusFilter(status), nil
}

// Status возвращает конкретный статус фильтра; ok=false для "all"
func (f StatusFilter) Status() (Status, bool) {
	if f == StatusFilterAll || f == "" {
		return "", false
	}
	return Status(f), true
}

type ForgeryIndicator struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Verification - одна попытка подтверждения квалификации специалиста
type Verification struct {
	ID                int64              `json:"id"`
	ProfessionalUUID  string             `json:"professional_uuid"`
	LicenseNumber     string             `json:"license_number"`
	Specialty         string             `json:"specialty"`
	DiplomaPath       string             `json:"diploma_path"`
	DiplomaFilename   string             `json:"diploma_filename"`
	ExtractedData     map[string]any     `json:"extracted_data,omitempty"`
	ConfidenceScore   *int               `json:"confidence_score"`
	ValidationDetails map[string]any     `json:"validation_details,omitempty"`
	ForgeryIndicators []ForgeryIndicator `json:"forgery_indicators"`
	Status            Status             `json:"status"`
	RejectionReason   *string            `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	VerifiedAt        *time.Time         `json:"verified_at,omitempty"`
	ReviewedBy        *string            `json:"reviewed_by,omitempty"`
}

const (
	DecisionAutomatic = "automatic"
	DecisionManual    = "manual"
)

type BatchSummary struct {
	Processed    int `json:"processed"`
	Verified     int `json:"verified"`
	Rejected     int `json:"rejected"`
	ManualReview int `json:"manual_review"`
	Failed       int `json:"failed"`
}

type Statistics struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	Processing   int `json:"processing"`
	Verified     int `json:"verified"`
	Rejected     int `json:"rejected"`
	ManualReview int `json:"manual_review"`
}

// StatisticsFromCounts раскладывает счетчики по статусам
func StatisticsFromCounts(counts map[Status]int) *Statistics {
	stats := &Statistics{}
	for status, n := range counts {
		switch status {
		case StatusPending:
			stats.Pending = n
		case StatusProcessing:
			stats.Processing = n
		case StatusVerified:
			stats.Verified = n
		case StatusRejected:
			stats.Rejected = n
		case StatusManualReview:
			stats.ManualReview = n
		}
		stats.Total += n
	}
	return stats
}

// ProcessResult - результат перехода; Warnings содержит ошибки побочных эффектов,
// которые не откатывают уже сохраненный статус
type ProcessResult struct {
	Verification *Verification `json:"verification"`
	Warnings     []string      `json:"warnings,omitempty"`
}
