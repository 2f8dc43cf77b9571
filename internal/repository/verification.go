package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"credential_verifier/internal/model"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type VerificationRepository interface {
	Create(ctx context.Context, v *model.Verification) error
	GetByID(ctx context.Context, id int64) (*model.Verification, error)
	GetAll(ctx context.Context, filter model.StatusFilter, limit *int32, offset *int32) ([]*model.Verification, error)
	ListIDsByStatus(ctx context.Context, status model.Status) ([]int64, error)
	// Update сохраняет запись, только если ее статус в БД все еще равен expected
	Update(ctx context.Context, v *model.Verification, expected model.Status) error
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
}

type verificationRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewVerificationRepository(db DBTX, logger *zap.Logger) VerificationRepository {
	return &verificationRepository{
		db:     db,
		logger: logger,
	}
}

const verificationColumns = `id, professional_uuid, license_number, specialty, diploma_path, diploma_filename,
		extracted_data, confidence_score, validation_details, forgery_indicators, status,
		rejection_reason, created_at, updated_at, verified_at, reviewed_by`

func scanVerification(row pgx.Row) (*model.Verification, error) {
	var v model.Verification
	var extracted, details, indicators []byte
	var status string

	err := row.Scan(&v.ID, &v.ProfessionalUUID, &v.LicenseNumber, &v.Specialty, &v.DiplomaPath, &v.DiplomaFilename,
		&extracted, &v.ConfidenceScore, &details, &indicators, &status,
		&v.RejectionReason, &v.CreatedAt, &v.UpdatedAt, &v.VerifiedAt, &v.ReviewedBy)
	if err != nil {
		return nil, err
	}

	if v.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	if err := decodeJSON(extracted, &v.ExtractedData); err != nil {
		return nil, fmt.Errorf("failed to decode extracted_data: %w", err)
	}
	if err := decodeJSON(details, &v.ValidationDetails); err != nil {
		return nil, fmt.Errorf("failed to decode validation_details: %w", err)
	}
	if err := decodeJSON(indicators, &v.ForgeryIndicators); err != nil {
		return nil, fmt.Errorf("failed to decode forgery_indicators: %w", err)
	}
	if v.ForgeryIndicators == nil {
		v.ForgeryIndicators = []model.ForgeryIndicator{}
	}
	return &v, nil
}

func decodeJSON(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func encodeJSON(value any) ([]byte, error) {
	if value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(value)
}

func (r *verificationRepository) Create(ctx context.Context, v *model.Verification) error {
	extracted, details, indicators, err := encodeDerived(v)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO professional_verifications
			(professional_uuid, license_number, specialty, diploma_path, diploma_filename,
			 extracted_data, confidence_score, validation_details, forgery_indicators, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		v.ProfessionalUUID, v.LicenseNumber, v.Specialty, v.DiplomaPath, v.DiplomaFilename,
		extracted, v.ConfidenceScore, details, indicators, string(v.Status),
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create verification", zap.Error(err), zap.String("professional_uuid", v.ProfessionalUUID))
		return fmt.Errorf("failed to create verification: %w", err)
	}

	return nil
}

func encodeDerived(v *model.Verification) (extracted, details, indicators []byte, err error) {
	if extracted, err = encodeJSON(v.ExtractedData); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode extracted_data: %w", err)
	}
	if details, err = encodeJSON(v.ValidationDetails); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode validation_details: %w", err)
	}
	list := v.ForgeryIndicators
	if list == nil {
		list = []model.ForgeryIndicator{}
	}
	if indicators, err = encodeJSON(list); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode forgery_indicators: %w", err)
	}
	return extracted, details, indicators, nil
}

func (r *verificationRepository) GetByID(ctx context.Context, id int64) (*model.Verification, error) {
	query := `SELECT ` + verificationColumns + ` FROM professional_verifications WHERE id = $1`

	verification, err := scanVerification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get verification", zap.Error(err), zap.Int64("id", id))
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	return verification, nil
}

func (r *verificationRepository) GetAll(ctx context.Context, filter model.StatusFilter, limit *int32, offset *int32) ([]*model.Verification, error) {
	query := `SELECT ` + verificationColumns + ` FROM professional_verifications`
	var args []any

	if status, ok := filter.Status(); ok {
		args = append(args, string(status))
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"

	if limit != nil {
		args = append(args, *limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset != nil {
		args = append(args, *offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to get verifications", zap.Error(err), zap.String("filter", string(filter)))
		return nil, fmt.Errorf("failed to get verifications: %w", err)
	}
	defer rows.Close()

	verifications := []*model.Verification{}
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			r.logger.Error("failed to scan verification", zap.Error(err))
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		verifications = append(verifications, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verifications: %w", err)
	}

	return verifications, nil
}

func (r *verificationRepository) ListIDsByStatus(ctx context.Context, status model.Status) ([]int64, error) {
	query := `SELECT id FROM professional_verifications WHERE status = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, string(status))
	if err != nil {
		r.logger.Error("failed to list verification ids", zap.Error(err), zap.String("status", string(status)))
		return nil, fmt.Errorf("failed to list verification ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan verification id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verification ids: %w", err)
	}

	return ids, nil
}

func (r *verificationRepository) Update(ctx context.Context, v *model.Verification, expected model.Status) error {
	extracted, details, indicators, err := encodeDerived(v)
	if err != nil {
		return err
	}

	query := `
		UPDATE professional_verifications
		SET license_number = $3, specialty = $4, diploma_path = $5, diploma_filename = $6,
			extracted_data = $7, confidence_score = $8, validation_details = $9, forgery_indicators = $10,
			status = $11, rejection_reason = $12, verified_at = $13, reviewed_by = $14, updated_at = $15
		WHERE id = $1 AND status = $2
	`

	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, query,
		v.ID, string(expected),
		v.LicenseNumber, v.Specialty, v.DiplomaPath, v.DiplomaFilename,
		extracted, v.ConfidenceScore, details, indicators,
		string(v.Status), v.RejectionReason, v.VerifiedAt, v.ReviewedBy, now,
	)
	if err != nil {
		r.logger.Error("failed to update verification", zap.Error(err), zap.Int64("id", v.ID))
		return fmt.Errorf("failed to update verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("verification %d is no longer %s: %w", v.ID, expected, ErrConcurrentUpdate)
	}

	v.UpdatedAt = now
	return nil
}

func (r *verificationRepository) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	query := `SELECT status, COUNT(*) FROM professional_verifications GROUP BY status`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.Error("failed to count verifications", zap.Error(err))
		return nil, fmt.Errorf("failed to count verifications: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan verification count: %w", err)
		}
		parsed, err := model.ParseStatus(status)
		if err != nil {
			r.logger.Warn("skipping unknown status in statistics", zap.String("status", status))
			continue
		}
		counts[parsed] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verification counts: %w", err)
	}

	return counts, nil
}
