// Package auth is the identity and role context: sign-up, sign-in, sign-out
// and bearer token authentication.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/repository"
	"github.com/jwalitptl/rx-api/pkg/auth"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
	"github.com/jwalitptl/rx-api/pkg/logger"
	"github.com/jwalitptl/rx-api/pkg/security"
)

const tokenType = "Bearer"

// Store is what sign-up and sign-in need from the record store.
type Store interface {
	repository.AccountRepository
	repository.ProfileRepository
}

type Service struct {
	store   Store
	jwtSvc  auth.JWTService
	hasher  security.PasswordHasher
	revoker Revoker
	policy  model.PasswordPolicy
	log     *logger.Logger
}

type Option func(*Service)

func WithPasswordPolicy(p model.PasswordPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(store Store, jwtSvc auth.JWTService, hasher security.PasswordHasher, revoker Revoker, opts ...Option) *Service {
	s := &Service{
		store:   store,
		jwtSvc:  jwtSvc,
		hasher:  hasher,
		revoker: revoker,
		policy:  model.DefaultPasswordPolicy(),
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUp creates the profile, its doctor or patient row and the credential,
// then signs the new account in.
func (s *Service) SignUp(ctx context.Context, req *model.SignUpRequest) (*model.TokenResponse, error) {
	if req == nil {
		return nil, apperrors.NewValidation("request body is required")
	}
	if strings.TrimSpace(req.FullName) == "" {
		return nil, apperrors.NewValidation("full_name is required")
	}
	if err := s.policy.Check(req.Password); err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}

	profile := &model.Profile{
		Base:     model.Base{ID: uuid.New()},
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		FullName: strings.TrimSpace(req.FullName),
		Phone:    req.Phone,
		Role:     req.Role,
	}

	var (
		doctor  *model.Doctor
		patient *model.Patient
	)
	switch req.Role {
	case model.RoleDoctor:
		if strings.TrimSpace(req.Specialization) == "" {
			return nil, apperrors.NewValidation("specialization is required for doctors")
		}
		doctor = &model.Doctor{
			Specialization: strings.TrimSpace(req.Specialization),
			LicenseNumber:  req.LicenseNumber,
		}
	case model.RolePatient:
		patient = &model.Patient{
			MedicalRecordNumber: req.MedicalRecordNumber,
			EmergencyContact:    req.EmergencyContact,
		}
		if req.DateOfBirth != nil && *req.DateOfBirth != "" {
			dob, err := time.Parse(model.DateLayout, *req.DateOfBirth)
			if err != nil {
				return nil, apperrors.NewValidation("date_of_birth must be YYYY-MM-DD")
			}
			patient.DateOfBirth = &dob
		}
	default:
		return nil, apperrors.NewValidation("role must be one of: doctor patient")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}

	if err := s.store.CreateAccount(ctx, profile, doctor, patient, hash); err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			return nil, apperrors.NewValidation(model.ErrEmailTaken.Error())
		}
		s.log.Error(err, "sign-up failed", "role", string(req.Role))
		return nil, storeError(err)
	}

	s.log.Info("account created", "profile_id", profile.ID.String(), "role", string(profile.Role))
	return s.issue(profile)
}

func (s *Service) SignIn(ctx context.Context, req *model.SignInRequest) (*model.TokenResponse, error) {
	if req == nil {
		return nil, apperrors.NewValidation("request body is required")
	}

	cred, err := s.store.GetCredentialByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthenticated(model.ErrInvalidCredentials.Error())
		}
		return nil, storeError(err)
	}
	if err := s.hasher.Compare(cred.PasswordHash, req.Password); err != nil {
		return nil, apperrors.NewUnauthenticated(model.ErrInvalidCredentials.Error())
	}

	self := &model.Identity{UserID: cred.ProfileID, Role: cred.Role, Email: cred.Email}
	profile, err := s.store.GetProfile(ctx, self, cred.ProfileID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, storeError(err)
		}
		// credential without a profile row; sign in with what we know
		profile = &model.Profile{Base: model.Base{ID: cred.ProfileID}, Email: cred.Email, Role: cred.Role}
	}
	return s.issue(profile)
}

// SignOut revokes the caller's token until it expires.
func (s *Service) SignOut(ctx context.Context, identity *model.Identity) error {
	if !identity.Valid() || identity.TokenID == "" {
		return apperrors.NewUnauthenticated("")
	}
	if err := s.revoker.Revoke(ctx, identity.TokenID, identity.ExpiresAt); err != nil {
		return apperrors.NewInternal(fmt.Errorf("revoke token: %w", err))
	}
	return nil
}

// Authenticate turns a bearer token into the caller identity.
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Identity, error) {
	claims, err := s.jwtSvc.ValidateToken(token)
	if err != nil {
		return nil, apperrors.NewUnauthenticated(err.Error())
	}
	identity, err := auth.Identity(claims)
	if err != nil {
		return nil, apperrors.NewUnauthenticated(err.Error())
	}

	revoked, err := s.revoker.IsRevoked(ctx, identity.TokenID)
	if err != nil {
		return nil, apperrors.NewInternal(fmt.Errorf("check revocation: %w", err))
	}
	if revoked {
		return nil, apperrors.NewUnauthenticated("token has been revoked")
	}
	return identity, nil
}

func (s *Service) issue(profile *model.Profile) (*model.TokenResponse, error) {
	token, claims, err := s.jwtSvc.GenerateAccessToken(profile)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	return &model.TokenResponse{
		AccessToken: token,
		TokenType:   tokenType,
		ExpiresAt:   claims.ExpiresAt.Time,
		Profile:     profile,
	}, nil
}

func storeError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.NewStoreFailure(err)
}
