package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	s, err := NewService(Config{Username: "operator", PasswordHash: hash, JWTSecret: "test-secret", TokenTTL: time.Hour})
	require.NoError(t, err)
	return s
}

func TestLogin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	resp, err := s.Login(ctx, LoginRequest{Username: "operator", Password: "correct horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "operator", resp.Username)

	sub, err := s.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "operator", sub)

	_, err = s.Login(ctx, LoginRequest{Username: "operator", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCreds)
	_, err = s.Login(ctx, LoginRequest{Username: "intruder", Password: "correct horse"})
	assert.ErrorIs(t, err, ErrInvalidCreds)
}

func TestLogin_DisabledWithoutHash(t *testing.T) {
	s, err := NewService(Config{Username: "operator"})
	require.NoError(t, err)

	_, err = s.Login(context.Background(), LoginRequest{Username: "operator", Password: ""})
	assert.ErrorIs(t, err, ErrInvalidCreds)
}

func TestValidateToken_Expired(t *testing.T) {
	s := newTestService(t)
	issued := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	token, _, err := s.generateToken("operator")
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_OtherSecret(t *testing.T) {
	s := newTestService(t)
	other, err := NewService(Config{Username: "operator", JWTSecret: "different"})
	require.NoError(t, err)

	token, _, err := other.generateToken("operator")
	require.NoError(t, err)
	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	s := newTestService(t)
	token, _, err := s.generateToken("operator")
	require.NoError(t, err)

	e := echo.New()
	e.GET("/private", func(c echo.Context) error {
		op, err := OperatorFromContext(c)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, op)
	}, s.Middleware)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "operator", rec.Body.String())
			}
		})
	}
}
