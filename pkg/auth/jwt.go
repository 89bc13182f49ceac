package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrSecretNotConfigured = errors.New("JWT_SECRET_KEY not configured")

// UserTokenClaims represents the claims in a user JWT
type UserTokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// GenerateUserToken signs a token for the user. It expires after TokenTTL.
func GenerateUserToken(userID string) (string, time.Time, error) {
	if JWTSecretKey == "" {
		return "", time.Time{}, ErrSecretNotConfigured
	}

	now := time.Now()
	claims := UserTokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	var expiresAt time.Time
	if TokenTTL > 0 {
		expiresAt = now.Add(TokenTTL)
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(JWTSecretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateUserToken validates a user JWT and returns the claims
func ValidateUserToken(tokenString string) (*UserTokenClaims, error) {
	if JWTSecretKey == "" {
		return nil, ErrSecretNotConfigured
	}

	token, err := jwt.ParseWithClaims(tokenString, &UserTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(JWTSecretKey), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*UserTokenClaims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}

	return nil, errors.New("invalid token claims")
}
