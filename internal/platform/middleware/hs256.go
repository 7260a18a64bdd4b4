package middleware

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// HS256Validator validates service JWTs signed with a shared HS256 key. The
// subject claim carries the user ID.
type HS256Validator struct {
	secret []byte
}

func NewHS256Validator(secret string) *HS256Validator {
	return &HS256Validator{secret: []byte(secret)}
}

func (v *HS256Validator) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("middleware: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("middleware: unexpected claims type")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.New("middleware: token missing subject")
	}
	email, _ := claims["email"].(string)
	return &JWTClaims{UserID: sub, Email: email}, nil
}
