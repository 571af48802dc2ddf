package auth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	accessTokenTtl  = 30 * time.Minute
	refreshTokenTtl = 7 * 24 * time.Hour
)

// Identity is the authenticated principal decoded from a token.
type Identity struct {
	UserId uuid.UUID
	Email  string
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type JwtManager struct {
	auth *jwtauth.JWTAuth
}

func NewJwtManager(secret []byte) *JwtManager {
	return &JwtManager{auth: jwtauth.New("HS256", secret, nil)}
}

func (m *JwtManager) createToken(userId uuid.UUID, email, tokenType string, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{
		"sub":   userId.String(),
		"email": email,
		"type":  tokenType,
		"exp":   time.Now().Add(ttl),
	}
	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating jwt", "token_type", tokenType, "error", err)
		return "", fmt.Errorf("error generating %v token: %w", tokenType, err)
	}
	return token, nil
}

func (m *JwtManager) CreateTokenPair(userId uuid.UUID, email string) (TokenPair, error) {
	access, err := m.createToken(userId, email, TokenTypeAccess, accessTokenTtl)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.createToken(userId, email, TokenTypeRefresh, refreshTokenTtl)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *JwtManager) decodeToken(tokenStr, wantType string) (Identity, error) {
	token, err := jwtauth.VerifyToken(m.auth, tokenStr)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid token: %w", err)
	}

	claims := token.PrivateClaims()
	tokenType, _ := claims["type"].(string)
	if tokenType != wantType {
		return Identity{}, fmt.Errorf("invalid token: expected a %v token", wantType)
	}

	userId, err := uuid.Parse(token.Subject())
	if err != nil {
		return Identity{}, fmt.Errorf("invalid token: malformed subject: %w", err)
	}

	email, _ := claims["email"].(string)

	return Identity{UserId: userId, Email: email}, nil
}

func (m *JwtManager) DecodeAccessToken(token string) (Identity, error) {
	return m.decodeToken(token, TokenTypeAccess)
}

func (m *JwtManager) DecodeRefreshToken(token string) (Identity, error) {
	return m.decodeToken(token, TokenTypeRefresh)
}
