package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crm-backend/internal/metadata"
)

// Claims is the access token payload. TenantID scopes every request.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// GenerateAccessToken signs a token for the user, valid for 24 hours.
func GenerateAccessToken(secret string, user *metadata.UserContext) (string, error) {
	claims := &Claims{
		TenantID: user.TenantID,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAccessToken verifies a token and returns the user it identifies.
func ParseAccessToken(secret, tokenString string) (*metadata.UserContext, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("token missing tenant_id")
	}
	return &metadata.UserContext{
		ID:       claims.Subject,
		TenantID: claims.TenantID,
		Roles:    claims.Roles,
	}, nil
}
