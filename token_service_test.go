package accounts_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key-for-unit-tests")

func newTestTokenService() accounts.TokenService {
	return accounts.NewTokenService(testSigningKey, 1, 168, "accounts-test", []string{"accounts-test"}, testLogger{})
}

func TestIssuePairMintsBothTokens(t *testing.T) {
	ts := newTestTokenService()

	identity := testIdentity{id: "user-1", email: "user@example.com", role: "customer"}

	pair, err := ts.IssuePair(identity)
	require.NoError(t, err)
	require.NotNil(t, pair)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), pair.ExpiresAt, time.Minute)

	access, err := ts.Validate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", access.UserID())
	assert.Equal(t, "customer", access.Role())
	assert.Equal(t, accounts.TokenUseAccess, access.Use())

	refresh, err := ts.Validate(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, accounts.TokenUseRefresh, refresh.Use())
	assert.True(t, refresh.Expires().After(access.Expires()))
}

func TestRefreshMintsNewAccessToken(t *testing.T) {
	ts := newTestTokenService()

	pair, err := ts.IssuePair(testIdentity{id: "user-2", role: "staff"})
	require.NoError(t, err)

	access, err := ts.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, access)

	claims, err := ts.Validate(access)
	require.NoError(t, err)
	assert.Equal(t, "user-2", claims.UserID())
	assert.Equal(t, "staff", claims.Role())
	assert.Equal(t, accounts.TokenUseAccess, claims.Use())
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	ts := newTestTokenService()

	pair, err := ts.IssuePair(testIdentity{id: "user-3", role: "customer"})
	require.NoError(t, err)

	_, err = ts.Refresh(pair.AccessToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrInvalidRefreshToken)
}

func TestRefreshRejectsGarbage(t *testing.T) {
	ts := newTestTokenService()

	_, err := ts.Refresh("not-a-token")
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrInvalidRefreshToken)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	ts := newTestTokenService()

	impl, ok := ts.(interface {
		SignClaims(claims *accounts.JWTClaims) (string, error)
	})
	require.True(t, ok)

	expired, err := impl.SignClaims(&accounts.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "accounts-test",
			Subject:   "user-4",
			Audience:  jwt.ClaimStrings{"accounts-test"},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		UID:      "user-4",
		TokenUse: accounts.TokenUseAccess,
	})
	require.NoError(t, err)

	_, err = ts.Validate(expired)
	require.Error(t, err)
	assert.True(t, accounts.IsTokenExpiredError(err))
}

func TestValidateRejectsWrongKey(t *testing.T) {
	ts := newTestTokenService()
	other := accounts.NewTokenService([]byte("a-completely-different-key"), 1, 168, "accounts-test", []string{"accounts-test"}, testLogger{})

	pair, err := other.IssuePair(testIdentity{id: "user-5"})
	require.NoError(t, err)

	_, err = ts.Validate(pair.AccessToken)
	assert.Error(t, err)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	ts := newTestTokenService()
	other := accounts.NewTokenService(testSigningKey, 1, 168, "someone-else", []string{"accounts-test"}, testLogger{})

	pair, err := other.IssuePair(testIdentity{id: "user-6"})
	require.NoError(t, err)

	_, err = ts.Validate(pair.AccessToken)
	assert.Error(t, err)
}
