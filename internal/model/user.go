package model

import (
	"strings"
	"time"
)

// User - учетная запись специалиста. Связь с Verification только по UUID.
type User struct {
	UUID             string     `json:"uuid"`
	Email            string     `json:"email"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Roles            []string   `json:"roles"`
	IsActive         bool       `json:"is_active"`
	VerifiedByAdmin  bool       `json:"verified_by_admin"`
	VerificationDate *time.Time `json:"verification_date,omitempty"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
