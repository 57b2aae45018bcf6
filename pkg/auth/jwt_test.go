package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
)

func newManager(t *testing.T, now *time.Time) *TokenManager {
	t.Helper()
	m, err := NewTokenManager("test-secret", "clinic-api", time.Hour)
	require.NoError(t, err)
	return m.WithClock(func() time.Time { return *now })
}

func TestTokenManager_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	m := newManager(t, &now)
	actor := model.Actor{UserID: uuid.New(), Role: model.RoleDoctor}

	token, err := m.Issue(actor)
	require.NoError(t, err)

	got, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestTokenManager_Rejects(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	m := newManager(t, &now)
	actor := model.Actor{UserID: uuid.New(), Role: model.RolePatient}
	valid, err := m.Issue(actor)
	require.NoError(t, err)

	other, err := NewTokenManager("other-secret", "clinic-api", time.Hour)
	require.NoError(t, err)
	foreign, err := other.WithClock(func() time.Time { return now }).Issue(actor)
	require.NoError(t, err)

	wrongIssuer, err := NewTokenManager("test-secret", "someone-else", time.Hour)
	require.NoError(t, err)
	misissued, err := wrongIssuer.WithClock(func() time.Time { return now }).Issue(actor)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: actor.UserID,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "clinic-api",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:           actor.UserID,
		Role:             actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "clinic-api"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: actor.UserID,
		Role:   "nurse",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "clinic-api",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":        "not-a-token",
		"foreign secret": foreign,
		"wrong issuer":   misissued,
		"alg none":       unsigned,
		"no expiry":      noExpiry,
		"unknown role":   badRole,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := m.Parse(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	now = now.Add(2 * time.Hour)
	_, err = m.Parse(valid)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestNewTokenManager_Validates(t *testing.T) {
	_, err := NewTokenManager("", "clinic-api", time.Hour)
	assert.Error(t, err)
	_, err = NewTokenManager("secret", "clinic-api", 0)
	assert.Error(t, err)

	m, err := NewTokenManager("secret", "clinic-api", time.Hour)
	require.NoError(t, err)
	_, err = m.Issue(model.Actor{Role: model.RoleAdmin})
	assert.ErrorIs(t, err, ErrInvalidToken)
}
