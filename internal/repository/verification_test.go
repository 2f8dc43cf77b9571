package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"credential_verifier/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap/zaptest"
)

func intPtr(i int) *int { return &i }

func verificationValues(id int64, status string) []any {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []any{
		id, "6f1c2d3e-0000-4000-8000-000000000001", "MD201548213", "cardiology",
		"public/uploads/diplomas/a.pdf", "diploma.pdf",
		[]byte(`{"method":"pdf"}`), intPtr(85), []byte(`{"score":85}`),
		[]byte(`[{"code":"date_in_future","reason":"graduation date is in the future"}]`),
		status, (*string)(nil), created, created, (*time.Time)(nil), (*string)(nil),
	}
}

func TestVerificationGetByID(t *testing.T) {
	tests := []struct {
		name          string
		row           *mockRow
		expectNil     bool
		expectedError string
	}{
		{
			name: "successful_get",
			row:  &mockRow{values: verificationValues(7, "verified")},
		},
		{
			name:      "not_found",
			row:       &mockRow{err: pgx.ErrNoRows},
			expectNil: true,
		},
		{
			name:          "database_error",
			row:           &mockRow{err: errors.New("connection reset")},
			expectedError: "failed to get verification",
		},
		{
			name:          "unknown_status",
			row:           &mockRow{values: verificationValues(7, "approved")},
			expectedError: "unknown verification status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &mockDB{
				queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
					if args[0] != int64(7) {
						t.Errorf("expected id 7, but got %v", args[0])
					}
					return tt.row
				},
			}
			repo := NewVerificationRepository(db, zaptest.NewLogger(t))

			v, err := repo.GetByID(context.Background(), 7)

			if tt.expectedError != "" {
				if err == nil || !containsError(err.Error(), tt.expectedError) {
					t.Errorf("expected error containing '%s', but got %v", tt.expectedError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.expectNil {
				if v != nil {
					t.Errorf("expected nil verification, but got %+v", v)
				}
				return
			}

			if v.ID != 7 || v.Status != model.StatusVerified {
				t.Errorf("unexpected verification: %+v", v)
			}
			if v.ConfidenceScore == nil || *v.ConfidenceScore != 85 {
				t.Errorf("expected confidence score 85, but got %v", v.ConfidenceScore)
			}
			if v.ExtractedData["method"] != "pdf" {
				t.Errorf("expected extracted method 'pdf', but got %v", v.ExtractedData["method"])
			}
			if len(v.ForgeryIndicators) != 1 || v.ForgeryIndicators[0].Code != "date_in_future" {
				t.Errorf("unexpected forgery indicators: %+v", v.ForgeryIndicators)
			}
		})
	}
}

func TestVerificationCreate(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var gotArgs []any
	db := &mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			gotArgs = args
			return &mockRow{values: []any{int64(12), created, created}}
		},
	}
	repo := NewVerificationRepository(db, zaptest.NewLogger(t))

	v := &model.Verification{
		ProfessionalUUID: "uuid-1",
		LicenseNumber:    "MD1",
		Specialty:        "cardiology",
		DiplomaPath:      "public/uploads/diplomas/a.pdf",
		DiplomaFilename:  "a.pdf",
		Status:           model.StatusPending,
	}
	if err := repo.Create(context.Background(), v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v.ID != 12 {
		t.Errorf("expected id 12, but got %d", v.ID)
	}
	if !v.CreatedAt.Equal(created) {
		t.Errorf("expected created_at %s, but got %s", created, v.CreatedAt)
	}
	if len(gotArgs) != 10 {
		t.Fatalf("expected 10 args, but got %d", len(gotArgs))
	}
	if gotArgs[9] != "pending" {
		t.Errorf("expected status 'pending', but got %v", gotArgs[9])
	}
	if string(gotArgs[8].([]byte)) != "[]" {
		t.Errorf("expected empty indicator list, but got %s", gotArgs[8])
	}
}

func TestVerificationGetAll(t *testing.T) {
	limit, offset := int32(10), int32(20)

	tests := []struct {
		name          string
		filter        model.StatusFilter
		limit         *int32
		offset        *int32
		expectedSQL   []string
		unexpectedSQL string
		expectedArgs  int
	}{
		{
			name:          "all_without_pagination",
			filter:        model.StatusFilterAll,
			unexpectedSQL: "WHERE",
			expectedArgs:  0,
		},
		{
			name:         "filter_with_pagination",
			filter:       model.StatusFilter(model.StatusManualReview),
			limit:        &limit,
			offset:       &offset,
			expectedSQL:  []string{"WHERE status = $1", "LIMIT $2", "OFFSET $3"},
			expectedArgs: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &mockDB{
				queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
					for _, fragment := range tt.expectedSQL {
						if !strings.Contains(sql, fragment) {
							t.Errorf("expected query to contain '%s', but got '%s'", fragment, sql)
						}
					}
					if tt.unexpectedSQL != "" && strings.Contains(sql, tt.unexpectedSQL) {
						t.Errorf("expected query without '%s', but got '%s'", tt.unexpectedSQL, sql)
					}
					if len(args) != tt.expectedArgs {
						t.Errorf("expected %d args, but got %d", tt.expectedArgs, len(args))
					}
					return &mockRows{data: [][]any{
						verificationValues(2, "manual_review"),
						verificationValues(1, "manual_review"),
					}}, nil
				},
			}
			repo := NewVerificationRepository(db, zaptest.NewLogger(t))

			list, err := repo.GetAll(context.Background(), tt.filter, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(list) != 2 || list[0].ID != 2 || list[1].ID != 1 {
				t.Errorf("unexpected list: %+v", list)
			}
		})
	}
}

func TestVerificationGetAllFailsOnBrokenRow(t *testing.T) {
	tests := []struct {
		name          string
		broken        []any
		expectedError string
	}{
		{
			name:          "unknown_status",
			broken:        verificationValues(1, "archived"),
			expectedError: "failed to scan verification",
		},
		{
			name: "corrupt_indicators",
			broken: func() []any {
				values := verificationValues(1, "verified")
				values[9] = []byte(`{not json`)
				return values
			}(),
			expectedError: "failed to decode forgery_indicators",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &mockDB{
				queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
					return &mockRows{data: [][]any{verificationValues(2, "verified"), tt.broken}}, nil
				},
			}
			repo := NewVerificationRepository(db, zaptest.NewLogger(t))

			list, err := repo.GetAll(context.Background(), model.StatusFilterAll, nil, nil)
			if err == nil {
				t.Fatalf("expected error, but got list %+v", list)
			}
			if !containsError(err.Error(), tt.expectedError) {
				t.Errorf("expected error containing '%s', but got '%s'", tt.expectedError, err.Error())
			}
			if list != nil {
				t.Errorf("expected no partial list, but got %d items", len(list))
			}
		})
	}
}

func TestVerificationUpdate(t *testing.T) {
	tests := []struct {
		name          string
		tag           string
		execError     error
		expectedError error
	}{
		{name: "updated", tag: "UPDATE 1"},
		{name: "stale_status", tag: "UPDATE 0", expectedError: ErrConcurrentUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotArgs []any
			db := &mockDB{
				execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					gotArgs = args
					return pgconn.NewCommandTag(tt.tag), tt.execError
				},
			}
			repo := NewVerificationRepository(db, zaptest.NewLogger(t))

			v := &model.Verification{ID: 5, Status: model.StatusVerified, ConfidenceScore: intPtr(90)}
			err := repo.Update(context.Background(), v, model.StatusProcessing)

			if tt.expectedError != nil {
				if !errors.Is(err, tt.expectedError) {
					t.Errorf("expected %v, but got %v", tt.expectedError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gotArgs[0] != int64(5) || gotArgs[1] != "processing" || gotArgs[10] != "verified" {
				t.Errorf("unexpected update args: %v", gotArgs)
			}
			if v.UpdatedAt.IsZero() {
				t.Error("expected updated_at to be set")
			}
		})
	}
}

func TestVerificationCountByStatus(t *testing.T) {
	db := &mockDB{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{
				{"pending", 3},
				{"verified", 4},
				{"legacy", 9},
			}}, nil
		},
	}
	repo := NewVerificationRepository(db, zaptest.NewLogger(t))

	counts, err := repo.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[model.StatusPending] != 3 || counts[model.StatusVerified] != 4 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if len(counts) != 2 {
		t.Errorf("expected unknown status to be skipped, but got %v", counts)
	}
}

func TestVerificationListIDsByStatus(t *testing.T) {
	tests := []struct {
		name          string
		rows          *mockRows
		queryError    error
		expectedIDs   []int64
		expectedError string
	}{
		{
			name:        "ids_in_order",
			rows:        &mockRows{data: [][]any{{int64(3)}, {int64(8)}}},
			expectedIDs: []int64{3, 8},
		},
		{
			name:          "query_error",
			queryError:    errors.New("timeout"),
			expectedError: "failed to list verification ids",
		},
		{
			name:          "iteration_error",
			rows:          &mockRows{err: errors.New("broken pipe")},
			expectedError: "failed to iterate verification ids",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &mockDB{
				queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
					if args[0] != "pending" {
						t.Errorf("expected status 'pending', but got %v", args[0])
					}
					if tt.queryError != nil {
						return nil, tt.queryError
					}
					return tt.rows, nil
				},
			}
			repo := NewVerificationRepository(db, zaptest.NewLogger(t))

			ids, err := repo.ListIDsByStatus(context.Background(), model.StatusPending)
			if tt.expectedError != "" {
				if err == nil || !containsError(err.Error(), tt.expectedError) {
					t.Errorf("expected error containing '%s', but got %v", tt.expectedError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(ids) != len(tt.expectedIDs) {
				t.Fatalf("expected %v, but got %v", tt.expectedIDs, ids)
			}
			for i := range ids {
				if ids[i] != tt.expectedIDs[i] {
					t.Errorf("expected %v, but got %v", tt.expectedIDs, ids)
				}
			}
		})
	}
}
