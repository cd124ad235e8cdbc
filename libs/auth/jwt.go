package auth

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the principal issued by the identity service. DoctorID and PatientID bind the
// token holder to the calendar or the patient record they act for; admins carry neither.
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	DoctorID  string `json:"doctor_id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
}

// NewClaims returns claims for subject issued now and expiring after ttl. A zero ttl omits exp.
func NewClaims(subject, role string, ttl time.Duration) Claims {
	now := time.Now()
	c := Claims{Role: role}
	c.Subject = subject
	c.IssuedAt = jwt.NewNumericDate(now)
	if ttl != 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return c
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// SignRS256 signs with key and advertises kid so verifiers can pick the key from a JWKS.
func SignRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(key)
}
