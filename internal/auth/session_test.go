package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func requestWithToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/sync/flights", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestJWTValidator_Valid(t *testing.T) {
	token, err := IssueToken(secret, "user-42", "BAW123", time.Hour)
	require.NoError(t, err)

	session, err := NewJWTValidator(secret).Validate(requestWithToken(token))
	require.NoError(t, err)
	assert.Equal(t, "user-42", session.UserID())
	assert.Equal(t, "BAW123", session.Callsign())
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)
}

func TestJWTValidator_Rejects(t *testing.T) {
	expired, _ := IssueToken(secret, "user-42", "", -time.Hour)
	wrongKey, _ := IssueToken("other-secret", "user-42", "", time.Hour)
	noSubject, _ := IssueToken(secret, "", "", time.Hour)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-42"}).SignedString([]byte(secret))
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))

	tests := []struct {
		name    string
		request *http.Request
		want    error
	}{
		{"no header", requestWithToken(""), ErrMissingToken},
		{"garbage", requestWithToken("not-a-jwt"), ErrInvalidToken},
		{"expired", requestWithToken(expired), ErrInvalidToken},
		{"wrong key", requestWithToken(wrongKey), ErrInvalidToken},
		{"no subject", requestWithToken(noSubject), ErrInvalidToken},
		{"no expiry", requestWithToken(noExpiry), ErrInvalidToken},
		{"wrong algorithm", requestWithToken(hs512), ErrInvalidToken},
	}

	v := NewJWTValidator(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.request)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUserClaimsContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetUserClaims(ctx))

	ctx = SetUserClaims(ctx, &Session{UserIDValue: "u1"})
	require.NotNil(t, GetUserClaims(ctx))
	assert.Equal(t, "u1", GetUserClaims(ctx).UserID())
	assert.Equal(t, "API", GetUserClaims(ctx).Source())
}
