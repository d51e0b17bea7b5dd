package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-test-secret-test-secret!"

func newTestCodec(t *testing.T, now func() time.Time) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(testSecret, WithIssuer("meshauth-test"), WithClock(now))
	require.NoError(t, err)
	return codec
}

func TestNewTokenCodec_RejectsShortSecret(t *testing.T) {
	_, err := NewTokenCodec("short")
	assert.Error(t, err)
}

func TestTokenCodec_RoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, func() time.Time { return now })

	claims := ClaimSet{
		UserID:      "0199f2c4-8a1e-7c3b-9a51-2b6c1f0e4d7a",
		FirstName:   "Juan",
		LastName:    "Dela Cruz",
		Email:       "juan@example.com",
		PhoneNumber: "+639171234567",
		Roles:       []string{"ADMIN", "underwriter"},
		Permissions: []string{"can_view_claims"},
	}

	token, err := codec.Issue("juan", claims, 10*time.Minute)
	require.NoError(t, err)

	got, err := codec.Verify(token)
	require.NoError(t, err)

	assert.Equal(t, "juan", got.Subject)
	assert.Equal(t, claims.UserID, got.UserID)
	assert.Equal(t, claims.FirstName, got.FirstName)
	assert.Equal(t, claims.LastName, got.LastName)
	assert.Equal(t, claims.Email, got.Email)
	assert.Equal(t, claims.PhoneNumber, got.PhoneNumber)
	assert.Equal(t, claims.Roles, got.Roles)
	assert.Equal(t, claims.Permissions, got.Permissions)
	assert.True(t, got.ExpiresAt.Equal(now.Add(10*time.Minute)))
	assert.True(t, got.IssuedAt.Equal(now))
}

func TestTokenCodec_RoundTripEmptyClaims(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	token, err := codec.Issue("svc", ClaimSet{}, time.Minute)
	require.NoError(t, err)

	got, err := codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "svc", got.Subject)
	assert.Empty(t, got.UserID)
	assert.Empty(t, got.Roles)
	assert.Empty(t, got.Permissions)
}

func TestTokenCodec_IssueValidation(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	_, err := codec.Issue("", ClaimSet{}, time.Minute)
	assert.Error(t, err)

	_, err = codec.Issue("juan", ClaimSet{}, 0)
	assert.Error(t, err)
}

func TestTokenCodec_Expired(t *testing.T) {
	issuedAt := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	current := issuedAt
	codec := newTestCodec(t, func() time.Time { return current })

	token, err := codec.Issue("juan", ClaimSet{UserID: "u-1", Roles: []string{"farmer"}}, time.Minute)
	require.NoError(t, err)

	current = issuedAt.Add(2 * time.Minute)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	claims, err := codec.ClaimsAllowingExpired(token)
	require.NoError(t, err)
	assert.Equal(t, "juan", claims.Subject)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "u-1", claims.OwnerRef())
}

func TestTokenCodec_TamperedSignature(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	token, err := codec.Issue("juan", ClaimSet{Roles: []string{"USER"}}, time.Minute)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	forged := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, err = codec.Verify(forged)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = codec.ClaimsAllowingExpired(forged)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodec_ExpiredTokenWithBadSignatureIsInvalid(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	other, err := NewTokenCodec("another-secret-another-secret-123", WithIssuer("meshauth-test"), WithClock(func() time.Time { return past }))
	require.NoError(t, err)

	token, err := other.Issue("juan", ClaimSet{}, time.Minute)
	require.NoError(t, err)

	codec := newTestCodec(t, time.Now)
	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.NotErrorIs(t, err, ErrTokenExpired)
}

func TestTokenCodec_RejectsOtherAlgorithms(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "juan",
		"iss": "meshauth-test",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodec_RejectsWrongIssuer(t *testing.T) {
	other, err := NewTokenCodec(testSecret, WithIssuer("someone-else"))
	require.NoError(t, err)

	token, err := other.Issue("juan", ClaimSet{}, time.Minute)
	require.NoError(t, err)

	codec := newTestCodec(t, time.Now)
	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = codec.ClaimsAllowingExpired(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodec_Malformed(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := codec.Verify(token)
		assert.ErrorIs(t, err, ErrTokenInvalid, token)
	}
}
