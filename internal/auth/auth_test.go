package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator("test-secret", "vulnorch", time.Hour)
	require.NoError(t, err)
	return a
}

func TestMintAndParse(t *testing.T) {
	a := newAuth(t)
	in := User{ID: "u1", OrgID: "org1", Role: "user", Permissions: []string{PermAssetAccess}}

	token, err := a.Mint(in)
	require.NoError(t, err)

	out, err := a.FromHeader("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.True(t, out.Can(PermAssetAccess))
	assert.False(t, out.IsAdmin())
}

func TestParseRejects(t *testing.T) {
	a := newAuth(t)
	other, err := NewAuthenticator("other-secret", "vulnorch", time.Hour)
	require.NoError(t, err)

	foreign, err := other.Mint(User{ID: "u1"})
	require.NoError(t, err)

	expired := newAuth(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Mint(User{ID: "u1"})
	require.NoError(t, err)

	wrongIssuer, err := NewAuthenticator("test-secret", "someone-else", time.Hour)
	require.NoError(t, err)
	misissued, err := wrongIssuer.Mint(User{ID: "u1"})
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{StandardClaims: jwt.StandardClaims{Subject: "u1", Issuer: "vulnorch"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"other secret": foreign,
		"expired":      old,
		"issuer":       misissued,
		"alg none":     unsigned,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Parse(token)
			assert.True(t, errors.Is(err, ErrInvalidToken), err)
		})
	}
}

func TestFromHeaderMissing(t *testing.T) {
	a := newAuth(t)
	for _, h := range []string{"", "Bearer", "Bearer   ", "Basic abc"} {
		_, err := a.FromHeader(h)
		assert.ErrorIs(t, err, ErrMissingToken, h)
	}
}

func TestAdminHasEveryPermission(t *testing.T) {
	assert.True(t, User{Role: RoleAdmin}.Can(PermAssetAccess))
	assert.False(t, User{Role: "user"}.Can(PermAssetAccess))
}

func TestNewAuthenticatorNeedsSecret(t *testing.T) {
	_, err := NewAuthenticator("", "x", time.Hour)
	assert.Error(t, err)
}

func TestMintNeedsUserID(t *testing.T) {
	_, err := newAuth(t).Mint(User{})
	assert.Error(t, err)
}
