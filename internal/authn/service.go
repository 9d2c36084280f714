// Package authn provides the minimal identity surface the rest of the
// system anchors ownership checks on: register/login/refresh issuing a
// JWT, and profile lookup by the claims the middleware already verified.
// It is intentionally thin — user management beyond this is out of scope
// (spec §1 Non-goals: admin dashboards, thin CRUD endpoints).
package authn

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/model"
	"tripplan-go/internal/repository"
	"tripplan-go/pkg/token"
)

// Service issues and verifies the identity every session/task ownership
// check is keyed on.
type Service struct {
	users      repository.UserRepository
	jwtManager *token.JWTManager
}

// New wires the authn service.
func New(users repository.UserRepository, jwtManager *token.JWTManager) *Service {
	return &Service{users: users, jwtManager: jwtManager}
}

// TokenPair is returned on register/login/refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	User         model.User
}

// Register creates a user with a bcrypt-hashed password and returns a
// fresh token pair, matching the login contract so the caller can skip a
// separate login round-trip.
func (s *Service) Register(ctx context.Context, username, password string) (TokenPair, error) {
	if username == "" || len(password) < 6 {
		return TokenPair{}, apierr.New(apierr.KindInvalidParams, "username required and password must be at least 6 characters")
	}
	_, err := s.users.FindByUsername(username)
	if err == nil {
		return TokenPair{}, apierr.New(apierr.KindInvalidParams, "username already exists").WithPath("username")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return TokenPair{}, apierr.Wrap(apierr.KindPersistenceFailed, "failed to check existing username", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return TokenPair{}, apierr.Wrap(apierr.KindInternal, "failed to hash password", err)
	}
	user := &model.User{Username: username, PasswordHash: string(hash), Role: model.RoleUser}
	if err := s.users.Create(user); err != nil {
		return TokenPair{}, apierr.Wrap(apierr.KindPersistenceFailed, "failed to create user", err)
	}
	return s.issue(*user)
}

// Login verifies the password and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, error) {
	user, err := s.users.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TokenPair{}, apierr.New(apierr.KindNotAuthorized, "invalid username or password")
		}
		return TokenPair{}, apierr.Wrap(apierr.KindPersistenceFailed, "failed to look up user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return TokenPair{}, apierr.New(apierr.KindNotAuthorized, "invalid username or password")
	}
	return s.issue(*user)
}

// Refresh verifies a refresh token and issues a new token pair for the
// same user, re-checking that the account still exists.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.jwtManager.VerifyToken(refreshToken)
	if err != nil {
		return TokenPair{}, apierr.New(apierr.KindNotAuthorized, "invalid or expired refresh token")
	}
	user, err := s.users.FindByID(claims.UserID)
	if err != nil {
		return TokenPair{}, apierr.New(apierr.KindNotAuthorized, "user no longer exists")
	}
	return s.issue(*user)
}

// VerifyAccessToken is the middleware's entry point: validates the token
// and loads the current user row (not just the claims) so a deleted
// account is rejected even with a still-valid signature. The returned
// user carries the row's current role, not the role in the claims.
func (s *Service) VerifyAccessToken(ctx context.Context, accessToken string) (model.User, error) {
	claims, err := s.jwtManager.VerifyToken(accessToken)
	if err != nil {
		return model.User{}, apierr.New(apierr.KindNotAuthorized, "invalid or expired token")
	}
	user, err := s.users.FindByID(claims.UserID)
	if err != nil {
		return model.User{}, apierr.New(apierr.KindNotAuthorized, "user no longer exists")
	}
	return *user, nil
}

func (s *Service) issue(user model.User) (TokenPair, error) {
	access, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return TokenPair{}, apierr.Wrap(apierr.KindInternal, "failed to issue access token", err)
	}
	refresh, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role)
	if err != nil {
		return TokenPair{}, apierr.Wrap(apierr.KindInternal, "failed to issue refresh token", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, User: user}, nil
}
