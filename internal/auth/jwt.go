// Package auth выдаёт и проверяет HS256-токены операторов мира.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin роль, которой разрешены правки мира через API
const RoleAdmin = "admin"

var (
	// ErrNoSecret секрет не задан: выдача и проверка токенов отключены
	ErrNoSecret = errors.New("auth: секрет не задан")
	// ErrInvalidToken подпись, срок или формат токена не прошли проверку
	ErrInvalidToken = errors.New("auth: недействительный токен")
)

// Claims represents JWT claims
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin true для роли admin
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Signer выдаёт и проверяет токены одним секретом
type Signer struct {
	secret []byte
	issuer string
}

// NewSigner создаёт подписчика; пустой секрет даёт подписчика, отвергающего всё
func NewSigner(secret, issuer string) *Signer {
	return &Signer{secret: []byte(secret), issuer: issuer}
}

// Enabled true, если секрет задан
func (s *Signer) Enabled() bool {
	return len(s.secret) > 0
}

// Issue создаёт токен для subject с ролью role на ttl
func (s *Signer) Issue(subject, role string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate проверяет подпись и срок токена и возвращает его claims
func (s *Signer) Validate(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrNoSecret
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecureSecret generates a new secure secret key
func GenerateSecureSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
