package model

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SignUpRequest creates a profile plus the doctor or patient row for its role.
type SignUpRequest struct {
	Email    string  `json:"email" binding:"required,email"`
	Password string  `json:"password" binding:"required,min=8"`
	FullName string  `json:"full_name" binding:"required"`
	Phone    *string `json:"phone"`
	Role     Role    `json:"role" binding:"required,oneof=doctor patient"`

	// doctor
	Specialization string  `json:"specialization"`
	LicenseNumber  *string `json:"license_number"`

	// patient
	DateOfBirth         *string `json:"date_of_birth"`
	MedicalRecordNumber *string `json:"medical_record_number"`
	EmergencyContact    *string `json:"emergency_contact"`
}

type SignInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Profile     *Profile  `json:"profile,omitempty"`
}

// Credential is the password record for a profile.
type Credential struct {
	ProfileID    uuid.UUID `db:"profile_id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         Role      `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

// Auth errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

// TokenClaims represents JWT claims
type TokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Identity is the authenticated caller. It is passed to every store call.
type Identity struct {
	UserID    uuid.UUID
	Role      Role
	Email     string
	TokenID   string
	ExpiresAt time.Time
}

func (i *Identity) Valid() bool {
	return i != nil && i.UserID != uuid.Nil && i.Role.Valid()
}

func (i *Identity) IsDoctor() bool {
	return i.Valid() && i.Role == RoleDoctor
}
