package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"credential_verifier/internal/extraction"
	"credential_verifier/internal/lock"
	"credential_verifier/internal/messaging"
	"credential_verifier/internal/model"
	"credential_verifier/internal/notification"
	"credential_verifier/internal/repository"
	"credential_verifier/internal/scoring"
	"credential_verifier/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type VerificationService interface {
	Submit(ctx context.Context, req SubmitRequest) (*model.ProcessResult, error)
	Process(ctx context.Context, id int64) (*model.ProcessResult, error)
	ProcessAllPending(ctx context.Context) (*model.BatchSummary, error)
	Approve(ctx context.Context, id int64, reviewer, note string) (*model.ProcessResult, error)
	Reject(ctx context.Context, id int64, reviewer, reason string) (*model.ProcessResult, error)
	GetVerification(ctx context.Context, id int64) (*model.Verification, error)
	ListVerifications(ctx context.Context, filter model.StatusFilter, limit *int32, offset *int32) ([]*model.Verification, error)
	Statistics(ctx context.Context) (*model.Statistics, error)
}

type SubmitRequest struct {
	ProfessionalUUID string
	LicenseNumber    string
	Specialty        string
	Filename         string
	Content          io.Reader
}

// EventPublisher рассылает события о смене статуса
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, msg messaging.StatusChangedMessage) error
}

// ProcessQueue ставит запись в очередь фоновой обработки
type ProcessQueue interface {
	PublishProcessRequest(ctx context.Context, verificationID int64, requestedBy string) error
}

type Metrics interface {
	ObserveTransition(from, to string)
	ObserveBatchItem(outcome string)
}

type Dependencies struct {
	Verifications repository.VerificationRepository
	Users         repository.UserRepository
	Store         storage.DiplomaStore
	Extractor     extraction.Extractor
	Scorer        scoring.Scorer
	Notifier      notification.Notifier
	Events        EventPublisher
	// Queue == nil означает синхронную обработку при загрузке
	Queue   ProcessQueue
	Locker  lock.Locker
	Metrics Metrics
}

type Options struct {
	Thresholds scoring.Thresholds
	LockTTL    time.Duration
	Now        func() time.Time
}

type verificationService struct {
	repo       repository.VerificationRepository
	users      repository.UserRepository
	store      storage.DiplomaStore
	extractor  extraction.Extractor
	scorer     scoring.Scorer
	notifier   notification.Notifier
	events     EventPublisher
	queue      ProcessQueue
	locker     lock.Locker
	metrics    Metrics
	thresholds scoring.Thresholds
	lockTTL    time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

func NewVerificationService(deps Dependencies, opts Options, logger *zap.Logger) VerificationService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewNoopLocker()
	}

	return &verificationService{
		repo:       deps.Verifications,
		users:      deps.Users,
		store:      deps.Store,
		extractor:  deps.Extractor,
		scorer:     deps.Scorer,
		notifier:   deps.Notifier,
		events:     deps.Events,
		queue:      deps.Queue,
		locker:     deps.Locker,
		metrics:    deps.Metrics,
		thresholds: opts.Thresholds,
		lockTTL:    opts.LockTTL,
		now:        opts.Now,
		logger:     logger,
	}
}

func (s *verificationService) Submit(ctx context.Context, req SubmitRequest) (*model.ProcessResult, error) {
	if _, err := uuid.Parse(req.ProfessionalUUID); err != nil {
		return nil, fmt.Errorf("%w: professional uuid %q is not a valid UUID", ErrInvalidInput, req.ProfessionalUUID)
	}
	license := strings.TrimSpace(req.LicenseNumber)
	if license == "" {
		return nil, fmt.Errorf("%w: license number cannot be empty", ErrInvalidInput)
	}
	specialty := strings.TrimSpace(req.Specialty)
	if specialty == "" {
		return nil, fmt.Errorf("%w: specialty cannot be empty", ErrInvalidInput)
	}
	if req.Content == nil {
		return nil, fmt.Errorf("%w: diploma file is required", ErrInvalidInput)
	}

	file, err := s.store.Save(ctx, req.Filename, req.Content)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedType) || errors.Is(err, storage.ErrTooLarge) || errors.Is(err, storage.ErrEmptyFile) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		s.logger.Error("failed to store diploma", zap.Error(err), zap.String("professional_uuid", req.ProfessionalUUID))
		return nil, fmt.Errorf("failed to store diploma: %w", err)
	}

	verification := &model.Verification{
		ProfessionalUUID:  req.ProfessionalUUID,
		LicenseNumber:     license,
		Specialty:         specialty,
		DiplomaPath:       file.Path,
		DiplomaFilename:   file.Filename,
		ForgeryIndicators: []model.ForgeryIndicator{},
		Status:            model.StatusPending,
	}
	if err := s.repo.Create(ctx, verification); err != nil {
		if delErr := s.store.Delete(file.Filename); delErr != nil {
			s.logger.Warn("failed to remove orphaned diploma", zap.Error(delErr), zap.String("filename", file.Filename))
		}
		return nil, fmt.Errorf("failed to create verification: %w", err)
	}

	s.logger.Info("verification submitted",
		zap.Int64("verification_id", verification.ID),
		zap.String("professional_uuid", verification.ProfessionalUUID),
		zap.String("filename", file.Filename))

	if s.queue != nil {
		result := &model.ProcessResult{Verification: verification}
		if err := s.queue.PublishProcessRequest(ctx, verification.ID, "upload"); err != nil {
			s.logger.Warn("failed to enqueue verification", zap.Error(err), zap.Int64("verification_id", verification.ID))
			result.Warnings = append(result.Warnings, "processing could not be queued; the record stays pending: "+err.Error())
		}
		return result, nil
	}

	result, err := s.Process(ctx, verification.ID)
	if err != nil {
		s.logger.Warn("inline processing failed", zap.Error(err), zap.Int64("verification_id", verification.ID))
		if current, getErr := s.repo.GetByID(ctx, verification.ID); getErr == nil && current != nil {
			verification = current
		}
		warning := fmt.Sprintf("automatic processing failed, the record is %s: %s", verification.Status, err.Error())
		return &model.ProcessResult{
			Verification: verification,
			Warnings:     []string{warning},
		}, nil
	}
	return result, nil
}

// Process прогоняет запись через извлечение и скоринг: pending/manual_review -> processing -> решение.
// Запись, брошенная в processing дольше lockTTL, обрабатывается заново.
func (s *verificationService) Process(ctx context.Context, id int64) (*model.ProcessResult, error) {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	v, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &model.ProcessResult{Verification: v}

	switch {
	case v.Status.CanTransitionTo(model.StatusProcessing):
		previous := v.Status
		v.Status = model.StatusProcessing
		v.RejectionReason = nil
		if err := s.save(ctx, v, previous); err != nil {
			return nil, err
		}
		s.afterTransition(ctx, result, previous, model.DecisionAutomatic)
	case s.orphaned(v):
		s.logger.Warn("resuming orphaned verification",
			zap.Int64("verification_id", id),
			zap.Time("updated_at", v.UpdatedAt))
	default:
		return nil, fmt.Errorf("%w: cannot process verification %d in status %s", ErrInvalidTransition, id, v.Status)
	}

	extracted, score, err := s.evaluate(ctx, v)
	if err != nil {
		s.logger.Error("evaluation failed", zap.Error(err), zap.Int64("verification_id", id))
		if saveErr := s.fallBackToReview(ctx, result, err); saveErr != nil {
			return nil, errors.Join(err, saveErr)
		}
		result.Warnings = append(result.Warnings, "automatic evaluation failed: "+err.Error())
		return result, nil
	}

	decision := s.thresholds.Decide(score.Score, extracted)
	now := s.now().UTC()

	v.ExtractedData = extracted.AsMap()
	v.ConfidenceScore = &score.Score
	v.ForgeryIndicators = score.Indicators
	v.ValidationDetails = s.validationDetails(score, now)
	v.Status = decision
	if decision.IsTerminal() {
		v.VerifiedAt = &now
	}
	if decision == model.StatusRejected {
		reason := fmt.Sprintf("automatic rejection: confidence score %d is at or below threshold %d", score.Score, s.thresholds.Low)
		v.RejectionReason = &reason
	}

	if err := s.save(ctx, v, model.StatusProcessing); err != nil {
		if errors.Is(err, ErrVerificationBusy) {
			return nil, err
		}
		s.logger.Error("failed to save automatic decision", zap.Error(err), zap.Int64("verification_id", id))
		if saveErr := s.fallBackToReview(ctx, result, err); saveErr != nil {
			return nil, errors.Join(err, saveErr)
		}
		s.warn(result, "automatic decision was not saved, the record was moved to manual review", err)
		return result, nil
	}

	s.logger.Info("verification processed",
		zap.Int64("verification_id", id),
		zap.Int("score", score.Score),
		zap.String("status", string(decision)),
		zap.Int("indicators", len(score.Indicators)))

	s.afterTransition(ctx, result, model.StatusProcessing, model.DecisionAutomatic)

	switch decision {
	case model.StatusVerified:
		s.mirrorUser(ctx, result, func(u *model.User) {
			u.VerifiedByAdmin = true
			u.VerificationDate = &now
		})
		s.notifyApproval(ctx, result)
	case model.StatusRejected:
		s.notifyRejection(ctx, result, *v.RejectionReason)
	case model.StatusPending, model.StatusProcessing, model.StatusManualReview:
	}

	return result, nil
}

// fallBackToReview переводит запись из processing в manual_review без производных данных,
// чтобы она не зависла в processing
func (s *verificationService) fallBackToReview(ctx context.Context, result *model.ProcessResult, cause error) error {
	v := result.Verification
	now := s.now().UTC()
	zero := 0

	v.Status = model.StatusManualReview
	v.ConfidenceScore = &zero
	v.ExtractedData = nil
	v.ForgeryIndicators = []model.ForgeryIndicator{}
	v.RejectionReason = nil
	v.VerifiedAt = nil
	v.ValidationDetails = map[string]any{
		"decision":     model.DecisionAutomatic,
		"error":        cause.Error(),
		"score":        zero,
		"processed_at": now.Format(time.RFC3339),
	}

	if err := s.save(ctx, v, model.StatusProcessing); err != nil {
		return err
	}
	s.afterTransition(ctx, result, model.StatusProcessing, model.DecisionAutomatic)
	return nil
}

// orphaned - запись в processing, которую никто не держит дольше lockTTL
func (s *verificationService) orphaned(v *model.Verification) bool {
	return v.Status == model.StatusProcessing && s.now().Sub(v.UpdatedAt) > s.lockTTL
}

// evaluate перехватывает панику парсеров, чтобы одна битая запись не ломала пакетную обработку
func (s *verificationService) evaluate(ctx context.Context, v *model.Verification) (extracted *model.ExtractionResult, score *model.ScoreResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during evaluation: %v", r)
		}
	}()

	extracted = s.extractor.Extract(ctx, v.DiplomaPath)
	if extracted == nil {
		return nil, nil, errors.New("extractor returned no result")
	}
	score = s.scorer.Score(scoring.Claim{LicenseNumber: v.LicenseNumber, Specialty: v.Specialty}, extracted)
	return extracted, score, nil
}

func (s *verificationService) validationDetails(score *model.ScoreResult, now time.Time) map[string]any {
	details := make(map[string]any, len(score.Details)+5)
	for k, v := range score.Details {
		details[k] = v
	}
	details["score"] = score.Score
	details["sub_scores"] = score.SubScores
	details["decision"] = model.DecisionAutomatic
	details["thresholds"] = map[string]int{"high": s.thresholds.High, "low": s.thresholds.Low}
	details["processed_at"] = now.Format(time.RFC3339)
	return details
}

func (s *verificationService) ProcessAllPending(ctx context.Context) (*model.BatchSummary, error) {
	ids, err := s.repo.ListIDsByStatus(ctx, model.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending verifications: %w", err)
	}

	summary := &model.BatchSummary{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("batch processing interrupted", zap.Error(err), zap.Int("remaining", len(ids)-summary.Processed-summary.Failed))
			break
		}

		status, err := s.processItem(ctx, id)
		if err != nil {
			summary.Failed++
			s.observeBatch("failed")
			s.logger.Warn("batch item failed", zap.Error(err), zap.Int64("verification_id", id))
			continue
		}

		summary.Processed++
		switch status {
		case model.StatusVerified:
			summary.Verified++
		case model.StatusRejected:
			summary.Rejected++
		case model.StatusManualReview:
			summary.ManualReview++
		case model.StatusPending, model.StatusProcessing:
		}
		s.observeBatch(string(status))
	}

	s.logger.Info("batch processing finished",
		zap.Int("processed", summary.Processed),
		zap.Int("verified", summary.Verified),
		zap.Int("rejected", summary.Rejected),
		zap.Int("manual_review", summary.ManualReview),
		zap.Int("failed", summary.Failed))

	return summary, nil
}

func (s *verificationService) processItem(ctx context.Context, id int64) (status model.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing verification %d: %v", id, r)
		}
	}()

	result, err := s.Process(ctx, id)
	if err != nil {
		return "", err
	}
	return result.Verification.Status, nil
}

func (s *verificationService) Approve(ctx context.Context, id int64, reviewer, note string) (*model.ProcessResult, error) {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	v, err := s.loadForReview(ctx, id, model.StatusVerified)
	if err != nil {
		return nil, err
	}

	previous := v.Status
	now := s.now().UTC()
	score := 100

	v.Status = model.StatusVerified
	v.ConfidenceScore = &score
	v.VerifiedAt = &now
	v.ReviewedBy = &reviewer
	v.RejectionReason = nil
	v.ValidationDetails = withDecision(v.ValidationDetails, reviewer, now)
	if note = strings.TrimSpace(note); note != "" {
		v.ValidationDetails["admin_note"] = note
	}

	if err := s.save(ctx, v, previous); err != nil {
		return nil, err
	}

	s.logger.Info("verification approved", zap.Int64("verification_id", id), zap.String("reviewer", reviewer))

	result := &model.ProcessResult{Verification: v}
	s.afterTransition(ctx, result, previous, model.DecisionManual)
	s.mirrorUser(ctx, result, func(u *model.User) {
		u.IsActive = true
		u.VerifiedByAdmin = true
		u.VerificationDate = &now
	})
	s.notifyApproval(ctx, result)
	return result, nil
}

func (s *verificationService) Reject(ctx context.Context, id int64, reviewer, reason string) (*model.ProcessResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	release, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	v, err := s.loadForReview(ctx, id, model.StatusRejected)
	if err != nil {
		return nil, err
	}

	previous := v.Status
	now := s.now().UTC()

	v.Status = model.StatusRejected
	v.RejectionReason = &reason
	v.VerifiedAt = &now
	v.ReviewedBy = &reviewer
	v.ValidationDetails = withDecision(v.ValidationDetails, reviewer, now)

	if err := s.save(ctx, v, previous); err != nil {
		return nil, err
	}

	s.logger.Info("verification rejected", zap.Int64("verification_id", id), zap.String("reviewer", reviewer))

	result := &model.ProcessResult{Verification: v}
	s.afterTransition(ctx, result, previous, model.DecisionManual)
	s.mirrorUser(ctx, result, func(u *model.User) {
		u.IsActive = false
		u.VerifiedByAdmin = false
	})
	s.notifyRejection(ctx, result, reason)
	return result, nil
}

func withDecision(details map[string]any, reviewer string, at time.Time) map[string]any {
	out := make(map[string]any, len(details)+3)
	for k, v := range details {
		out[k] = v
	}
	out["decision"] = model.DecisionManual
	out["reviewed_by"] = reviewer
	out["reviewed_at"] = at.Format(time.RFC3339)
	return out
}

func (s *verificationService) GetVerification(ctx context.Context, id int64) (*model.Verification, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: verification id must be positive, got %d", ErrInvalidInput, id)
	}
	return s.load(ctx, id)
}

func (s *verificationService) ListVerifications(ctx context.Context, filter model.StatusFilter, limit *int32, offset *int32) ([]*model.Verification, error) {
	if limit != nil && *limit < 0 {
		return nil, fmt.Errorf("%w: limit must be non-negative, got %d", ErrInvalidInput, *limit)
	}

	if offset != nil && *offset < 0 {
		return nil, fmt.Errorf("%w: offset must be non-negative, got %d", ErrInvalidInput, *offset)
	}

	return s.repo.GetAll(ctx, filter, limit, offset)
}

func (s *verificationService) Statistics(ctx context.Context) (*model.Statistics, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count verifications: %w", err)
	}
	return model.StatisticsFromCounts(counts), nil
}

func (s *verificationService) acquire(ctx context.Context, id int64) (func(), error) {
	release, err := s.locker.Acquire(ctx, strconv.FormatInt(id, 10), s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, fmt.Errorf("%w: %d", ErrVerificationBusy, id)
		}
		return nil, fmt.Errorf("failed to lock verification %d: %w", id, err)
	}
	return release, nil
}

func (s *verificationService) load(ctx context.Context, id int64) (*model.Verification, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("failed to get verification from repository", zap.Error(err), zap.Int64("id", id))
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return v, nil
}

// loadForReview - решения администратора принимаются по pending, manual_review
// и по брошенным записям в processing
func (s *verificationService) loadForReview(ctx context.Context, id int64, target model.Status) (*model.Verification, error) {
	v, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != model.StatusPending && v.Status != model.StatusManualReview && !s.orphaned(v) {
		return nil, fmt.Errorf("%w: cannot move verification %d from %s to %s", ErrInvalidTransition, id, v.Status, target)
	}
	return v, nil
}

func (s *verificationService) save(ctx context.Context, v *model.Verification, expected model.Status) error {
	if err := s.repo.Update(ctx, v, expected); err != nil {
		if errors.Is(err, repository.ErrConcurrentUpdate) {
			return fmt.Errorf("%w: %w", ErrVerificationBusy, err)
		}
		return fmt.Errorf("failed to save verification: %w", err)
	}
	return nil
}

// afterTransition публикует событие; ошибки становятся предупреждениями
func (s *verificationService) afterTransition(ctx context.Context, result *model.ProcessResult, from model.Status, decision string) {
	v := result.Verification
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(from), string(v.Status))
	}
	if s.events == nil {
		return
	}

	msg := messaging.StatusChangedMessage{
		VerificationID:   v.ID,
		ProfessionalUUID: v.ProfessionalUUID,
		From:             string(from),
		To:               string(v.Status),
		Decision:         decision,
		ConfidenceScore:  v.ConfidenceScore,
		ChangedAt:        s.now().UTC(),
	}
	if v.ReviewedBy != nil {
		msg.ReviewedBy = *v.ReviewedBy
	}
	if err := s.events.PublishStatusChanged(ctx, msg); err != nil {
		s.warn(result, "status change event was not published", err)
	}
}

// mirrorUser переносит решение на учетную запись специалиста; apply меняет только нужные флаги
func (s *verificationService) mirrorUser(ctx context.Context, result *model.ProcessResult, apply func(u *model.User)) {
	if s.users == nil {
		return
	}
	professionalUUID := result.Verification.ProfessionalUUID

	user, err := s.users.GetByUUID(ctx, professionalUUID)
	if err != nil {
		s.warn(result, "professional account was not updated", err)
		return
	}
	if user == nil {
		s.warn(result, "professional account was not updated", fmt.Errorf("user %s not found", professionalUUID))
		return
	}

	apply(user)
	if err := s.users.UpdateVerificationFlags(ctx, user); err != nil {
		s.warn(result, "professional account was not updated", err)
	}
}

func (s *verificationService) notifyApproval(ctx context.Context, result *model.ProcessResult) {
	if s.notifier == nil {
		return
	}
	if !s.notifier.SendApprovalEmail(ctx, result.Verification) {
		s.warn(result, "approval email could not be sent", nil)
	}
}

func (s *verificationService) notifyRejection(ctx context.Context, result *model.ProcessResult, reason string) {
	if s.notifier == nil {
		return
	}
	if !s.notifier.SendRejectionEmail(ctx, result.Verification, reason) {
		s.warn(result, "rejection email could not be sent", nil)
	}
}

func (s *verificationService) warn(result *model.ProcessResult, message string, err error) {
	fields := []zap.Field{zap.Int64("verification_id", result.Verification.ID)}
	if err != nil {
		fields = append(fields, zap.Error(err))
		message = message + ": " + err.Error()
	}
	s.logger.Warn(message, fields...)
	result.Warnings = append(result.Warnings, message)
}

func (s *verificationService) observeBatch(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveBatchItem(outcome)
	}
}
