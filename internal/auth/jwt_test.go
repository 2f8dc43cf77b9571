package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	userID := uuid.New()

	token, err := service.GenerateToken(userID, "admin@example.com", RoleAdmin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := service.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != userID {
		t.Errorf("expected user id %s, but got %s", userID, claims.UserID)
	}
	if claims.Email != "admin@example.com" || claims.Role != RoleAdmin {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenErrors(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	valid, err := service.GenerateToken(uuid.New(), "a@example.com", RoleDoctor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expiredService := NewJWTService("secret", time.Hour)
	expiredService.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredService.GenerateToken(uuid.New(), "a@example.com", RoleDoctor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name          string
		service       *JWTService
		token         string
		expectedError error
	}{
		{name: "garbage", service: service, token: "not-a-token", expectedError: ErrInvalidToken},
		{name: "wrong_secret", service: NewJWTService("other", time.Hour), token: valid, expectedError: ErrInvalidToken},
		{name: "expired", service: service, token: expired, expectedError: ErrExpiredToken},
		{name: "none_algorithm", service: service, token: noneToken, expectedError: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.service.ValidateToken(tt.token)
			if !errors.Is(err, tt.expectedError) {
				t.Errorf("expected %v, but got %v", tt.expectedError, err)
			}
		})
	}
}
