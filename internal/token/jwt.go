package token

import (
	"errors"
	"time"

	"school-gateway/internal/config"
	"school-gateway/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Claims carries the account identity inside both token types.
type Claims struct {
	AccountID string      `json:"account_id"`
	Role      models.Role `json:"role"`
	TokenType string      `json:"token_type"`
	jwt.RegisteredClaims
}

// Credential is an access/refresh token pair handed to a client.
type Credential struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Manager mints and verifies HS256 tokens.
type Manager struct {
	secret        []byte
	accessExpire  time.Duration
	refreshExpire time.Duration
	issuer        string
	now           func() time.Time
}

func NewManager(cfg config.JWTConfig) *Manager {
	return &Manager{
		secret:        []byte(cfg.Secret),
		accessExpire:  cfg.AccessExpire,
		refreshExpire: cfg.RefreshExpire,
		issuer:        cfg.Issuer,
		now:           time.Now,
	}
}

func (m *Manager) MintAccess(identity models.Identity) (string, time.Time, error) {
	return m.mint(identity, typeAccess, m.accessExpire)
}

func (m *Manager) MintRefresh(identity models.Identity) (string, time.Time, error) {
	return m.mint(identity, typeRefresh, m.refreshExpire)
}

func (m *Manager) mint(identity models.Identity, tokenType string, expire time.Duration) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(expire)
	claims := Claims{
		AccountID: identity.AccountID,
		Role:      identity.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   identity.AccountID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyAccess validates an access token and returns its claims.
func (m *Manager) VerifyAccess(tokenString string) (*Claims, error) {
	return m.verify(tokenString, typeAccess)
}

// VerifyRefresh validates a refresh token and returns its claims.
func (m *Manager) VerifyRefresh(tokenString string) (*Claims, error) {
	return m.verify(tokenString, typeRefresh)
}

func (m *Manager) verify(tokenString, wantType string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalid
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalid
	}
	if !claims.Role.Valid() {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Remaining returns the unexpired lifetime left on a token's claims, clamped
// at zero.
func (m *Manager) Remaining(claims *Claims) time.Duration {
	if claims.ExpiresAt == nil {
		return 0
	}
	d := claims.ExpiresAt.Time.Sub(m.now())
	if d < 0 {
		return 0
	}
	return d
}
