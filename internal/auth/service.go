// Package auth authenticates the single operator of the tracker and issues the bearer tokens
// the API's mutating routes require.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCreds = eris.New("invalid credentials")
	ErrInvalidToken = eris.New("invalid or expired token")
)

// Config is the operator account.
type Config struct {
	Username     string
	PasswordHash string // bcrypt
	JWTSecret    string
	TokenTTL     time.Duration
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	username     string
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

// NewService builds the service. Without a configured secret an ephemeral one is generated,
// so tokens do not survive a restart. Without a password hash every login fails.
func NewService(cfg Config) (*Service, error) {
	s := &Service{
		username:     strings.TrimSpace(cfg.Username),
		passwordHash: []byte(strings.TrimSpace(cfg.PasswordHash)),
		secret:       []byte(strings.TrimSpace(cfg.JWTSecret)),
		ttl:          cfg.TokenTTL,
		now:          time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if len(s.secret) == 0 {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			return nil, eris.Wrap(err, "auth: generate fallback secret")
		}
		s.secret = []byte(base64.RawURLEncoding.EncodeToString(buf))
		zap.L().Warn("auth.jwt_secret is not set; using ephemeral in-memory secret")
	}
	if len(s.passwordHash) == 0 {
		zap.L().Warn("auth.password_hash is not set; operator login is disabled")
	}
	return s, nil
}

// HashPassword returns the bcrypt hash to put in auth.password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", eris.New("auth: empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", eris.Wrap(err, "auth: hash password")
	}
	return string(hash), nil
}

func (s *Service) Login(_ context.Context, req LoginRequest) (*AuthResponse, error) {
	if len(s.passwordHash) == 0 || s.username == "" {
		return nil, ErrInvalidCreds
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(req.Username)), []byte(s.username)) == 1
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(req.Password)); err != nil || !userOK {
		return nil, ErrInvalidCreds
	}

	token, exp, err := s.generateToken(s.username)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, Username: s.username, ExpiresAt: exp}, nil
}

func (s *Service) generateToken(subject string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, eris.Wrap(err, "auth: sign token")
	}
	return signed, exp, nil
}

// ValidateToken checks signature and expiry and returns the token subject.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, eris.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub != s.username {
		return "", ErrInvalidToken
	}
	return sub, nil
}
