package jwtutil

import (
	"errors"
	"fmt"
	"time"

	"familytree-service/pkg/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var jwtConfig *config.JWTConfig

// UserClaims carries the requester identity issued at login. Role and
// approval status are informational only; policy decisions always re-resolve
// them from the user's own row at request time.
type UserClaims struct {
	Email          string     `json:"email"`
	Role           string     `json:"role,omitempty"`
	ApprovalStatus string     `json:"approval_status,omitempty"`
	FamilyID       *uuid.UUID `json:"family_id,omitempty"`
	jwt.RegisteredClaims
}

// Initialize sets up the JWT utility with configuration
func Initialize(config *config.JWTConfig) {
	jwtConfig = config
}

// GenerateToken creates a new JWT token for a user
func GenerateToken(userID uuid.UUID, email, role, approvalStatus string, familyID *uuid.UUID) (string, error) {
	if jwtConfig == nil {
		return "", errors.New("JWT configuration not initialized")
	}

	claims := &UserClaims{
		Email:          email,
		Role:           role,
		ApprovalStatus: approvalStatus,
		FamilyID:       familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(jwtConfig.ExpirationHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtConfig.SigningKey))
}

// ValidateToken validates the token and returns the claims
func ValidateToken(tokenString string) (*UserClaims, error) {
	if jwtConfig == nil {
		return nil, errors.New("JWT configuration not initialized")
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&UserClaims{},
		func(token *jwt.Token) (interface{}, error) {
			// Validate the signing method
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(jwtConfig.SigningKey), nil
		},
	)

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// SubjectID parses the user ID out of the token subject claim.
func (c *UserClaims) SubjectID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}
