package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/auth"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/middleware"
	"github.com/ukydev/school-bus-tracker/internal/models"
)

// MockUserCollection is a mock implementation of UserCollection
type MockUserCollection struct {
	mock.Mock
}

func (m *MockUserCollection) InsertUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	if args.Error(0) == nil && user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	return args.Error(0)
}

func (m *MockUserCollection) FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) FindUsersByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func (m *MockUserCollection) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func (m *MockUserCollection) CountUsersByRole(ctx context.Context, role models.Role) (int64, error) {
	args := m.Called(ctx, role)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUserCollection) UpdateUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserCollection) UpdateLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockUserCollection) InsertDriver(ctx context.Context, d *models.Driver) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockUserCollection) InsertParent(ctx context.Context, p *models.Parent) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockUserCollection) InsertAdministrator(ctx context.Context, a *models.Administrator) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockUserCollection) FindDriverByID(ctx context.Context, id primitive.ObjectID) (*models.Driver, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Driver), args.Error(1)
}

func (m *MockUserCollection) FindDriverByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Driver, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Driver), args.Error(1)
}

func (m *MockUserCollection) FindParentByID(ctx context.Context, id primitive.ObjectID) (*models.Parent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Parent), args.Error(1)
}

func (m *MockUserCollection) FindParentByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Parent, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Parent), args.Error(1)
}

func (m *MockUserCollection) ListDrivers(ctx context.Context) ([]models.DriverWithUser, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DriverWithUser), args.Error(1)
}

func (m *MockUserCollection) ListParents(ctx context.Context) ([]models.ParentWithUser, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ParentWithUser), args.Error(1)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

// asUser attaches the claims the auth middleware would have stored.
func asUser(req *http.Request, user *models.User) *http.Request {
	claims := &models.Claims{UserID: user.ID.Hex(), Email: user.Email, Role: user.Role}
	return req.WithContext(middleware.WithClaims(req.Context(), claims))
}

func newTestAuthService() *auth.Service {
	return auth.NewService("handler-test-secret", time.Hour)
}

func TestAuthHandler_Login(t *testing.T) {
	authService := newTestAuthService()
	passwordHash, err := authService.HashPassword("password123")
	require.NoError(t, err)

	t.Run("successful login", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		user := &models.User{
			ID:           primitive.NewObjectID(),
			Name:         "Test Driver",
			Email:        "driver@school.test",
			PasswordHash: passwordHash,
			Role:         models.RoleDriver,
			IsActive:     true,
		}

		mockUserCollection.On("FindUserByEmail", mock.Anything, "driver@school.test").Return(user, nil)
		mockUserCollection.On("UpdateLastLogin", mock.Anything, user.ID, mock.AnythingOfType("time.Time")).Return(nil)

		req := httptest.NewRequest("POST", "/api/auth/login", jsonBody(t, models.LoginRequest{
			Email:    " Driver@School.test ",
			Password: "password123",
		}))
		w := httptest.NewRecorder()

		handler.Login(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response models.LoginResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response.Token)
		assert.NotEmpty(t, response.RefreshToken)
		assert.Equal(t, user.Email, response.User.Email)
		assert.NotNil(t, response.User.LastLogin)
		assert.NotContains(t, w.Body.String(), "password")

		claims, err := authService.ValidateToken(response.Token)
		require.NoError(t, err)
		assert.Equal(t, models.RoleDriver, claims.Role)

		mockUserCollection.AssertExpectations(t)
	})

	t.Run("unknown email", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		mockUserCollection.On("FindUserByEmail", mock.Anything, "nobody@school.test").Return(nil, db.ErrNotFound)

		req := httptest.NewRequest("POST", "/api/auth/login", jsonBody(t, models.LoginRequest{
			Email:    "nobody@school.test",
			Password: "password123",
		}))
		w := httptest.NewRecorder()

		handler.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockUserCollection.AssertExpectations(t)
	})

	t.Run("wrong password", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		user := &models.User{ID: primitive.NewObjectID(), Email: "driver@school.test", PasswordHash: passwordHash, IsActive: true}
		mockUserCollection.On("FindUserByEmail", mock.Anything, "driver@school.test").Return(user, nil)

		req := httptest.NewRequest("POST", "/api/auth/login", jsonBody(t, models.LoginRequest{
			Email:    "driver@school.test",
			Password: "wrongpassword",
		}))
		w := httptest.NewRecorder()

		handler.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockUserCollection.AssertNotCalled(t, "UpdateLastLogin", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("inactive user", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		user := &models.User{
			ID:           primitive.NewObjectID(),
			Email:        "driver@school.test",
			PasswordHash: passwordHash,
			IsActive:     false,
		}
		mockUserCollection.On("FindUserByEmail", mock.Anything, "driver@school.test").Return(user, nil)

		req := httptest.NewRequest("POST", "/api/auth/login", jsonBody(t, models.LoginRequest{
			Email:    "driver@school.test",
			Password: "password123",
		}))
		w := httptest.NewRecorder()

		handler.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockUserCollection.AssertExpectations(t)
	})

	t.Run("malformed body", func(t *testing.T) {
		handler := NewAuthHandler(authService, new(MockUserCollection), false)

		for _, body := range []string{`{`, `{"email":"a@b.test","password":"x","extra":1}`, `{"password":"x"}`} {
			w := httptest.NewRecorder()
			handler.Login(w, httptest.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(body)))
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
	})
}

func TestAuthHandler_Register(t *testing.T) {
	authService := newTestAuthService()

	t.Run("parent with profile", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		mockUserCollection.On("FindUserByEmail", mock.Anything, "parent@school.test").Return(nil, db.ErrNotFound)
		mockUserCollection.On("InsertUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
			return u.Role == models.RoleParent && u.IsActive && u.PasswordHash != "" && u.PasswordHash != "password123"
		})).Return(nil)
		mockUserCollection.On("InsertParent", mock.Anything, mock.MatchedBy(func(p *models.Parent) bool {
			return p.Address == "12 Elm Street" && !p.UserID.IsZero()
		})).Return(nil)

		req := httptest.NewRequest("POST", "/api/auth/register", jsonBody(t, models.RegisterRequest{
			Name:     "Pat Parent",
			Email:    "Parent@school.test",
			Password: "password123",
			Role:     models.RoleParent,
			Address:  "12 Elm Street",
		}))
		w := httptest.NewRecorder()

		handler.Register(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response models.LoginResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, "parent@school.test", response.User.Email)
		mockUserCollection.AssertExpectations(t)
	})

	t.Run("first admin is allowed", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		mockUserCollection.On("CountUsersByRole", mock.Anything, models.RoleAdmin).Return(int64(0), nil)
		mockUserCollection.On("FindUserByEmail", mock.Anything, "admin@school.test").Return(nil, db.ErrNotFound)
		mockUserCollection.On("InsertUser", mock.Anything, mock.Anything).Return(nil)
		mockUserCollection.On("InsertAdministrator", mock.Anything, mock.Anything).Return(nil)

		req := httptest.NewRequest("POST", "/api/auth/register", jsonBody(t, models.RegisterRequest{
			Name:     "Ada Admin",
			Email:    "admin@school.test",
			Password: "password123",
			Role:     models.RoleAdmin,
		}))
		w := httptest.NewRecorder()

		handler.Register(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		mockUserCollection.AssertExpectations(t)
	})

	t.Run("admin registration closed", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		mockUserCollection.On("CountUsersByRole", mock.Anything, models.RoleAdmin).Return(int64(1), nil)

		req := httptest.NewRequest("POST", "/api/auth/register", jsonBody(t, models.RegisterRequest{
			Name:     "Eve",
			Email:    "eve@school.test",
			Password: "password123",
			Role:     models.RoleAdmin,
		}))
		w := httptest.NewRecorder()

		handler.Register(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		mockUserCollection.AssertNotCalled(t, "InsertUser", mock.Anything, mock.Anything)
	})

	t.Run("duplicate email", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		mockUserCollection.On("FindUserByEmail", mock.Anything, "parent@school.test").
			Return(&models.User{ID: primitive.NewObjectID(), Email: "parent@school.test"}, nil)

		req := httptest.NewRequest("POST", "/api/auth/register", jsonBody(t, models.RegisterRequest{
			Name:     "Pat Parent",
			Email:    "parent@school.test",
			Password: "password123",
			Role:     models.RoleParent,
		}))
		w := httptest.NewRecorder()

		handler.Register(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		mockUserCollection.AssertExpectations(t)
	})

	t.Run("rejected input", func(t *testing.T) {
		handler := NewAuthHandler(authService, new(MockUserCollection), false)

		tests := []struct {
			name string
			req  models.RegisterRequest
		}{
			{"short password", models.RegisterRequest{Name: "A", Email: "a@school.test", Password: "short", Role: models.RoleParent}},
			{"unknown role", models.RegisterRequest{Name: "A", Email: "a@school.test", Password: "password123", Role: "PILOT"}},
			{"driver without license", models.RegisterRequest{Name: "A", Email: "a@school.test", Password: "password123", Role: models.RoleDriver}},
			{"bad email", models.RegisterRequest{Name: "A", Email: "not-an-email", Password: "password123", Role: models.RoleParent}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := httptest.NewRecorder()
				handler.Register(w, httptest.NewRequest("POST", "/api/auth/register", jsonBody(t, tt.req)))
				assert.Equal(t, http.StatusBadRequest, w.Code)
			})
		}
	})
}

func TestAuthHandler_GetProfile(t *testing.T) {
	authService := newTestAuthService()

	t.Run("successful get profile", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		user := &models.User{ID: primitive.NewObjectID(), Name: "Pat", Email: "parent@school.test", Role: models.RoleParent, IsActive: true}
		mockUserCollection.On("FindUserByID", mock.Anything, user.ID).Return(user, nil)

		w := httptest.NewRecorder()
		handler.GetProfile(w, asUser(httptest.NewRequest("GET", "/api/auth/me", nil), user))

		assert.Equal(t, http.StatusOK, w.Code)
		var response models.User
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, user.ID, response.ID)
		mockUserCollection.AssertExpectations(t)
	})

	t.Run("no user in context", func(t *testing.T) {
		handler := NewAuthHandler(authService, new(MockUserCollection), false)

		w := httptest.NewRecorder()
		handler.GetProfile(w, httptest.NewRequest("GET", "/api/auth/me", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthHandler_UpdateProfile(t *testing.T) {
	authService := newTestAuthService()

	t.Run("updates name and phone", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		user := &models.User{ID: primitive.NewObjectID(), Name: "Pat", Email: "parent@school.test", Role: models.RoleParent}
		mockUserCollection.On("FindUserByID", mock.Anything, user.ID).Return(user, nil)
		mockUserCollection.On("UpdateUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
			return u.Name == "Patricia" && u.Phone == "555-0100" && u.Role == models.RoleParent
		})).Return(nil)

		req := httptest.NewRequest("PUT", "/api/auth/me", jsonBody(t, map[string]string{"name": "Patricia", "phone": "555-0100"}))
		w := httptest.NewRecorder()
		handler.UpdateProfile(w, asUser(req, user))

		assert.Equal(t, http.StatusOK, w.Code)
		mockUserCollection.AssertExpectations(t)
	})

	t.Run("email taken", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		user := &models.User{ID: primitive.NewObjectID(), Email: "parent@school.test", Role: models.RoleParent}
		other := &models.User{ID: primitive.NewObjectID(), Email: "driver@school.test"}
		mockUserCollection.On("FindUserByID", mock.Anything, user.ID).Return(user, nil)
		mockUserCollection.On("FindUserByEmail", mock.Anything, "driver@school.test").Return(other, nil)

		req := httptest.NewRequest("PUT", "/api/auth/me", jsonBody(t, map[string]string{"email": "driver@school.test"}))
		w := httptest.NewRecorder()
		handler.UpdateProfile(w, asUser(req, user))

		assert.Equal(t, http.StatusConflict, w.Code)
		mockUserCollection.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything)
	})

	t.Run("role is not writable", func(t *testing.T) {
		handler := NewAuthHandler(authService, new(MockUserCollection), false)
		user := &models.User{ID: primitive.NewObjectID(), Role: models.RoleParent}

		req := httptest.NewRequest("PUT", "/api/auth/me", bytes.NewBufferString(`{"role":"ADMIN"}`))
		w := httptest.NewRecorder()
		handler.UpdateProfile(w, asUser(req, user))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthHandler_ChangePassword(t *testing.T) {
	authService := newTestAuthService()
	passwordHash, err := authService.HashPassword("password123")
	require.NoError(t, err)

	t.Run("successful change", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		user := &models.User{ID: primitive.NewObjectID(), PasswordHash: passwordHash, Role: models.RoleDriver}
		mockUserCollection.On("FindUserByID", mock.Anything, user.ID).Return(user, nil)
		mockUserCollection.On("UpdateUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
			return authService.CheckPassword("newpassword456", u.PasswordHash)
		})).Return(nil)

		req := httptest.NewRequest("PUT", "/api/auth/password", jsonBody(t, changePasswordRequest{
			CurrentPassword: "password123",
			NewPassword:     "newpassword456",
		}))
		w := httptest.NewRecorder()
		handler.ChangePassword(w, asUser(req, user))

		assert.Equal(t, http.StatusOK, w.Code)
		mockUserCollection.AssertExpectations(t)
	})

	t.Run("wrong current password", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, db.UserCollection(mockUserCollection), false)

		user := &models.User{ID: primitive.NewObjectID(), PasswordHash: passwordHash, Role: models.RoleDriver}
		mockUserCollection.On("FindUserByID", mock.Anything, user.ID).Return(user, nil)

		req := httptest.NewRequest("PUT", "/api/auth/password", jsonBody(t, changePasswordRequest{
			CurrentPassword: "nope-nope",
			NewPassword:     "newpassword456",
		}))
		w := httptest.NewRecorder()
		handler.ChangePassword(w, asUser(req, user))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockUserCollection.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything)
	})
}
