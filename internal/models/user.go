package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleDriver Role = "DRIVER"
	RoleParent Role = "PARENT"
)

// User represents an account. The role is fixed at registration.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Role         Role               `bson:"role" json:"role"`
	Name         string             `bson:"name" json:"name"`
	Phone        string             `bson:"phone" json:"phone"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	IsActive     bool               `bson:"is_active" json:"is_active"`
	LastLogin    *time.Time         `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// Driver is the DRIVER profile, one-to-one with a User.
type Driver struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID        primitive.ObjectID `bson:"user_id" json:"user_id"`
	LicenseNumber string             `bson:"license_number" json:"license_number"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
}

// Parent is the PARENT profile, one-to-one with a User.
type Parent struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	Address   string             `bson:"address" json:"address"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// Administrator is the ADMIN profile, one-to-one with a User.
type Administrator struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	Position  string             `bson:"position" json:"position"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// DriverWithUser joins a driver profile with its account for admin listings.
type DriverWithUser struct {
	Driver
	User User `json:"user"`
}

// ParentWithUser joins a parent profile with its account for admin listings.
type ParentWithUser struct {
	Parent
	User User `json:"user"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest represents a user registration request. Profile fields are
// only read for the matching role.
type RegisterRequest struct {
	Name          string `json:"name" validate:"required,max=120"`
	Email         string `json:"email" validate:"required,email"`
	Phone         string `json:"phone" validate:"omitempty,max=32"`
	Password      string `json:"password" validate:"required"`
	Role          Role   `json:"role" validate:"required"`
	LicenseNumber string `json:"license_number,omitempty"`
	Address       string `json:"address,omitempty"`
	Position      string `json:"position,omitempty"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Exp    int64  `json:"exp"`
}

// Principal returns the acting identity carried by the claims. A malformed
// user id yields a zero ObjectID, which matches no resource.
func (c *Claims) Principal() Principal {
	id, _ := primitive.ObjectIDFromHex(c.UserID)
	return Principal{UserID: id, Role: c.Role}
}

// Principal is the authenticated actor every authorization decision is made for.
type Principal struct {
	UserID primitive.ObjectID
	Role   Role
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleDriver, RoleParent:
		return true
	default:
		return false
	}
}
