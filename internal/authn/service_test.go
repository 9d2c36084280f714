package authn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/model"
	"tripplan-go/pkg/token"
)

// mockUserRepo is a mock implementation of repository.UserRepository.
type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(user *model.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *mockUserRepo) FindByUsername(username string) (*model.User, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) Update(user *model.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *mockUserRepo) FindAll() ([]model.User, error) {
	args := m.Called()
	return args.Get(0).([]model.User), args.Error(1)
}

func (m *mockUserRepo) FindWithPagination(offset, limit int) ([]model.User, int64, error) {
	args := m.Called(offset, limit)
	return args.Get(0).([]model.User), args.Get(1).(int64), args.Error(2)
}

func (m *mockUserRepo) FindByID(userID uint) (*model.User, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func newTestJWTManager() *token.JWTManager {
	return token.NewJWTManager("test-secret", 1, 7)
}

func hashPassword(t *testing.T, password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	assert.NoError(t, err)
	return string(hash)
}

func TestRegister(t *testing.T) {
	t.Run("success issues a token pair", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("FindByUsername", "alice").Return(nil, gorm.ErrRecordNotFound)
		repo.On("Create", mock.AnythingOfType("*model.User")).Run(func(args mock.Arguments) {
			user := args.Get(0).(*model.User)
			user.ID = 1
		}).Return(nil)

		svc := New(repo, newTestJWTManager())
		pair, err := svc.Register(context.Background(), "alice", "password123")

		assert.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.Equal(t, uint(1), pair.User.ID)
		assert.Equal(t, model.RoleUser, pair.User.Role)
		repo.AssertExpectations(t)
	})

	t.Run("rejects a short password", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := New(repo, newTestJWTManager())

		_, err := svc.Register(context.Background(), "alice", "short")

		apiErr, ok := apierr.As(err)
		assert.True(t, ok)
		assert.Equal(t, apierr.KindInvalidParams, apiErr.Kind)
		repo.AssertNotCalled(t, "FindByUsername", mock.Anything)
	})

	t.Run("rejects a duplicate username", func(t *testing.T) {
		repo := new(mockUserRepo)
		existing := &model.User{ID: 2, Username: "alice"}
		repo.On("FindByUsername", "alice").Return(existing, nil)

		svc := New(repo, newTestJWTManager())
		_, err := svc.Register(context.Background(), "alice", "password123")

		apiErr, ok := apierr.As(err)
		assert.True(t, ok)
		assert.Equal(t, apierr.KindInvalidParams, apiErr.Kind)
		repo.AssertExpectations(t)
	})

	t.Run("wraps an unexpected lookup failure", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("FindByUsername", "alice").Return(nil, gorm.ErrInvalidTransaction)

		svc := New(repo, newTestJWTManager())
		_, err := svc.Register(context.Background(), "alice", "password123")

		apiErr, ok := apierr.As(err)
		assert.True(t, ok)
		assert.Equal(t, apierr.KindPersistenceFailed, apiErr.Kind)
	})
}

func TestLogin(t *testing.T) {
	t.Run("success issues a token pair", func(t *testing.T) {
		repo := new(mockUserRepo)
		user := &model.User{ID: 1, Username: "alice", PasswordHash: hashPassword(t, "password123"), Role: model.RoleUser}
		repo.On("FindByUsername", "alice").Return(user, nil)

		svc := New(repo, newTestJWTManager())
		pair, err := svc.Login(context.Background(), "alice", "password123")

		assert.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.Equal(t, user.ID, pair.User.ID)
	})

	t.Run("rejects an unknown user", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("FindByUsername", "alice").Return(nil, gorm.ErrRecordNotFound)

		svc := New(repo, newTestJWTManager())
		_, err := svc.Login(context.Background(), "alice", "password123")

		apiErr, ok := apierr.As(err)
		assert.True(t, ok)
		assert.Equal(t, apierr.KindNotAuthorized, apiErr.Kind)
	})

	t.Run("rejects a wrong password without distinguishing from unknown user", func(t *testing.T) {
		repo := new(mockUserRepo)
		user := &model.User{ID: 1, Username: "alice", PasswordHash: hashPassword(t, "password123")}
		repo.On("FindByUsername", "alice").Return(user, nil)

		svc := New(repo, newTestJWTManager())
		_, err := svc.Login(context.Background(), "alice", "wrong-password")

		apiErr, ok := apierr.As(err)
		assert.True(t, ok)
		assert.Equal(t, apierr.KindNotAuthorized, apiErr.Kind)
		assert.Equal(t, "invalid username or password", apiErr.Message)
	})
}

func TestRefresh(t *testing.T) {
	t.Run("re-issues a pair for a valid refresh token", func(t *testing.T) {
		repo := new(mockUserRepo)
		jwtManager := newTestJWTManager()
		user := &model.User{ID: 1, Username: "alice", Role: model.RoleUser}
		refreshToken, err := jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role)
		assert.NoError(t, err)
		repo.On("FindByID", user.ID).Return(user, nil)

		svc := New(repo, jwtManager)
		pair, err := svc.Refresh(context.Background(), refreshToken)

		assert.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
	})

	t.Run("rejects a malformed token", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := New(repo, newTestJWTManager())

		_, err := svc.Refresh(context.Background(), "not-a-jwt")

		apiErr, ok := apierr.As(err)
		assert.True(t, ok)
		assert.Equal(t, apierr.KindNotAuthorized, apiErr.Kind)
		repo.AssertNotCalled(t, "FindByID", mock.Anything)
	})

	t.Run("rejects a token for a user that no longer exists", func(t *testing.T) {
		repo := new(mockUserRepo)
		jwtManager := newTestJWTManager()
		refreshToken, err := jwtManager.GenerateRefreshToken(9, "ghost", model.RoleUser)
		assert.NoError(t, err)
		repo.On("FindByID", uint(9)).Return(nil, gorm.ErrRecordNotFound)

		svc := New(repo, jwtManager)
		_, err = svc.Refresh(context.Background(), refreshToken)

		apiErr, ok := apierr.As(err)
		assert.True(t, ok)
		assert.Equal(t, apierr.KindNotAuthorized, apiErr.Kind)
	})
}

func TestVerifyAccessToken(t *testing.T) {
	t.Run("resolves the current user row for a valid signature", func(t *testing.T) {
		repo := new(mockUserRepo)
		jwtManager := newTestJWTManager()
		user := &model.User{ID: 1, Username: "alice", Role: model.RoleUser}
		accessToken, err := jwtManager.GenerateToken(user.ID, user.Username, user.Role)
		assert.NoError(t, err)
		repo.On("FindByID", user.ID).Return(user, nil)

		svc := New(repo, jwtManager)
		resolved, err := svc.VerifyAccessToken(context.Background(), accessToken)

		assert.NoError(t, err)
		assert.Equal(t, user.ID, resolved.ID)
	})

	t.Run("rejects a deleted account despite a structurally valid signature", func(t *testing.T) {
		repo := new(mockUserRepo)
		jwtManager := newTestJWTManager()
		accessToken, err := jwtManager.GenerateToken(9, "ghost", model.RoleUser)
		assert.NoError(t, err)
		repo.On("FindByID", uint(9)).Return(nil, gorm.ErrRecordNotFound)

		svc := New(repo, jwtManager)
		_, err = svc.VerifyAccessToken(context.Background(), accessToken)

		apiErr, ok := apierr.As(err)
		assert.True(t, ok)
		assert.Equal(t, apierr.KindNotAuthorized, apiErr.Kind)
	})
}
