package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-pipeline/internal/config"
)

const testSecret = "test-secret-that-is-long-enough-for-testing"

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestNewJWTService(t *testing.T) {
	t.Parallel()

	_, err := NewJWTService(config.AuthConfig{JWTSecret: "short"})
	assert.Error(t, err)

	svc, err := NewJWTService(config.AuthConfig{JWTSecret: testSecret})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestGenerateAndValidate(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, err := newJWTService(testSecret, time.Hour, fixedClock(issued))
	require.NoError(t, err)

	token, err := svc.GenerateToken(context.Background(), "scryctl")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "scryctl", claims.Subject)
	assert.Equal(t, issued.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, issued.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)

	_, err = svc.GenerateToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestValidateToken_Failures(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := newJWTService(testSecret, time.Hour, fixedClock(issued))
	require.NoError(t, err)
	token, err := issuer.GenerateToken(context.Background(), "client")
	require.NoError(t, err)

	wrongKey, err := newJWTService("another-secret-that-is-long-enough-too", time.Hour, fixedClock(issued))
	require.NoError(t, err)

	later, err := newJWTService(testSecret, time.Hour, fixedClock(issued.Add(3*time.Hour)))
	require.NoError(t, err)

	earlier, err := newJWTService(testSecret, time.Hour, fixedClock(issued.Add(-time.Hour)))
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "client",
		ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		svc   *hmacJWTService
		token string
		want  error
	}{
		{"wrong key", wrongKey, token, ErrInvalidToken},
		{"expired", later, token, ErrExpiredToken},
		{"issued in the future", earlier, token, ErrTokenNotYetValid},
		{"malformed", issuer, "not.a.token", ErrInvalidToken},
		{"alg none", issuer, noneToken, ErrInvalidToken},
		{"no subject", issuer, noSubject, ErrMissingSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.ValidateToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
