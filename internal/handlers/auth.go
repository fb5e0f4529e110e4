package handlers

import (
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/auth"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/models"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService            *auth.Service
	userCollection         db.UserCollection
	allowAdminRegistration bool
}

// NewAuthHandler creates a new authentication handler. Admin accounts can
// only be registered while none exists unless allowAdmin is set.
func NewAuthHandler(authService *auth.Service, userCollection db.UserCollection, allowAdmin bool) *AuthHandler {
	return &AuthHandler{
		authService:            authService,
		userCollection:         userCollection,
		allowAdminRegistration: allowAdmin,
	}
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq models.LoginRequest
	if err := readAndValidate(w, r, &loginReq); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userCollection.FindUserByEmail(r.Context(), auth.NormalizeEmail(loginReq.Email))
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, r, apperr.Unauthenticatedf(auth.ErrInvalidCredentials.Error()))
		return
	}
	if err != nil {
		writeError(w, r, apperr.Internalf(err))
		return
	}

	if !h.authService.CheckPassword(loginReq.Password, user.PasswordHash) {
		writeError(w, r, apperr.Unauthenticatedf(auth.ErrInvalidCredentials.Error()))
		return
	}
	if !user.IsActive {
		writeError(w, r, apperr.Unauthenticatedf(auth.ErrUserInactive.Error()))
		return
	}

	now := nowUTC()
	if err := h.userCollection.UpdateLastLogin(r.Context(), user.ID, now); err != nil {
		log.WithError(err).WithField("user_id", user.ID.Hex()).Warn("failed to update last login")
	} else {
		user.LastLogin = &now
	}
	h.issue(w, r, user, http.StatusOK)
}

// issue writes a LoginResponse with fresh tokens.
func (h *AuthHandler) issue(w http.ResponseWriter, r *http.Request, user *models.User, status int) {
	token, err := h.authService.GenerateToken(user)
	if err != nil {
		writeError(w, r, apperr.Internalf(err))
		return
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		writeError(w, r, apperr.Internalf(err))
		return
	}
	writeJSON(w, status, models.LoginResponse{
		Token:        token,
		RefreshToken: refreshToken,
		User:         *user,
	})
}

// Register creates an account together with its role profile
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := readAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authService.ValidatePassword(req.Password); err != nil {
		writeError(w, r, apperr.Invalidf(err.Error()))
		return
	}
	if !models.IsValidRole(req.Role) {
		writeError(w, r, apperr.Invalidf("invalid role"))
		return
	}
	if req.Role == models.RoleDriver && strings.TrimSpace(req.LicenseNumber) == "" {
		writeError(w, r, apperr.Invalidf("license_number is required for drivers"))
		return
	}

	ctx := r.Context()
	if req.Role == models.RoleAdmin && !h.allowAdminRegistration {
		n, err := h.userCollection.CountUsersByRole(ctx, models.RoleAdmin)
		if err != nil {
			writeError(w, r, apperr.Internalf(err))
			return
		}
		if n > 0 {
			writeError(w, r, apperr.Forbiddenf("admin registration is closed"))
			return
		}
	}

	email := auth.NormalizeEmail(req.Email)
	if _, err := h.userCollection.FindUserByEmail(ctx, email); err == nil {
		writeError(w, r, apperr.Conflictf("email already exists"))
		return
	} else if !errors.Is(err, db.ErrNotFound) {
		writeError(w, r, apperr.Internalf(err))
		return
	}

	passwordHash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, apperr.Internalf(err))
		return
	}

	user := &models.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		Phone:        req.Phone,
		PasswordHash: passwordHash,
		Role:         req.Role,
		IsActive:     true,
	}
	if err := h.userCollection.InsertUser(ctx, user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			writeError(w, r, apperr.Conflictf("email already exists"))
			return
		}
		writeError(w, r, apperr.Internalf(err))
		return
	}

	switch req.Role {
	case models.RoleDriver:
		err = h.userCollection.InsertDriver(ctx, &models.Driver{UserID: user.ID, LicenseNumber: req.LicenseNumber})
	case models.RoleParent:
		err = h.userCollection.InsertParent(ctx, &models.Parent{UserID: user.ID, Address: req.Address})
	case models.RoleAdmin:
		err = h.userCollection.InsertAdministrator(ctx, &models.Administrator{UserID: user.ID, Position: req.Position})
	}
	if err != nil {
		writeError(w, r, apperr.Internalf(err))
		return
	}

	log.WithFields(log.Fields{"user_id": user.ID.Hex(), "role": user.Role}).Info("user registered")
	h.issue(w, r, user, http.StatusCreated)
}

// GetProfile returns the current user's account
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), p.UserID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, r, apperr.NotFoundf("user not found"))
		return
	}
	if err != nil {
		writeError(w, r, apperr.Internalf(err))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type updateProfileRequest struct {
	Name  string `json:"name" validate:"max=120"`
	Phone string `json:"phone" validate:"max=32"`
	Email string `json:"email" validate:"omitempty,email"`
}

// UpdateProfile updates the current user's name, phone or email. The role
// never changes.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var updateReq updateProfileRequest
	if err := readAndValidate(w, r, &updateReq); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	user, err := h.userCollection.FindUserByID(ctx, p.UserID)
	if err != nil {
		writeError(w, r, apperr.NotFoundf("user not found"))
		return
	}

	if updateReq.Name != "" {
		user.Name = updateReq.Name
	}
	if updateReq.Phone != "" {
		user.Phone = updateReq.Phone
	}
	if updateReq.Email != "" {
		email := auth.NormalizeEmail(updateReq.Email)
		existing, err := h.userCollection.FindUserByEmail(ctx, email)
		if err == nil && existing.ID != user.ID {
			writeError(w, r, apperr.Conflictf("email already exists"))
			return
		}
		user.Email = email
	}

	if err := h.userCollection.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			writeError(w, r, apperr.Conflictf("email already exists"))
			return
		}
		writeError(w, r, apperr.Internalf(err))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// ChangePassword changes the current user's password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var passwordReq changePasswordRequest
	if err := readAndValidate(w, r, &passwordReq); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authService.ValidatePassword(passwordReq.NewPassword); err != nil {
		writeError(w, r, apperr.Invalidf(err.Error()))
		return
	}

	ctx := r.Context()
	user, err := h.userCollection.FindUserByID(ctx, p.UserID)
	if err != nil {
		writeError(w, r, apperr.NotFoundf("user not found"))
		return
	}
	if !h.authService.CheckPassword(passwordReq.CurrentPassword, user.PasswordHash) {
		writeError(w, r, apperr.Unauthenticatedf("current password is incorrect"))
		return
	}

	newPasswordHash, err := h.authService.HashPassword(passwordReq.NewPassword)
	if err != nil {
		writeError(w, r, apperr.Internalf(err))
		return
	}
	user.PasswordHash = newPasswordHash
	if err := h.userCollection.UpdateUser(ctx, user); err != nil {
		writeError(w, r, apperr.Internalf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}
