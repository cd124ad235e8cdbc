package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var errAlgorithmDisabled = errors.New("signing algorithm not accepted")

// Verifier checks bearer tokens signed either with a shared HS256 secret or with an
// RS256 key published by the identity provider. A zero field disables that algorithm.
type Verifier struct {
	Secret string
	Keys   KeySource
}

func (v Verifier) Enabled() bool {
	return v.Secret != "" || v.Keys != nil
}

func (v Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodHS256.Alg():
			if v.Secret == "" {
				return nil, errAlgorithmDisabled
			}
			return []byte(v.Secret), nil
		case jwt.SigningMethodRS256.Alg():
			if v.Keys == nil {
				return nil, errAlgorithmDisabled
			}
			kid, _ := t.Header["kid"].(string)
			return v.Keys.Key(ctx, kid)
		default:
			return nil, errAlgorithmDisabled
		}
	}, jwt.WithValidMethods([]string{"HS256", "RS256"}), jwt.WithIssuedAt())
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: sub and role are required", ErrInvalidToken)
	}
	return claims, nil
}
