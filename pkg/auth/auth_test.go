package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/store"
)

func newTestAuth(t *testing.T, secret string) (*Authenticator, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "edna.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	a, err := New(s, secret, time.Hour, zap.NewNop())
	require.NoError(t, err)
	return a, s
}

func TestEnsureAdminAndLogin(t *testing.T) {
	a, _ := newTestAuth(t, "secret")
	ctx := context.Background()

	created, err := a.EnsureAdmin(ctx, "s3cret")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = a.EnsureAdmin(ctx, "other")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = a.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.Login(ctx, "ghost", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	tok, err := a.Login(ctx, "admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, "admin", tok.Username)
	assert.Equal(t, RoleAdmin, tok.Role)

	claims, err := a.Verify(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestVerifyRejects(t *testing.T) {
	a, _ := newTestAuth(t, "secret")
	other, _ := newTestAuth(t, "another")

	tok, err := other.Issue("admin", RoleAdmin)
	require.NoError(t, err)
	_, err = a.Verify(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := a.Issue("admin", RoleAdmin)
	require.NoError(t, err)
	a.now = time.Now
	_, err = a.Verify(expired.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "admin"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout(t *testing.T) {
	a, _ := newTestAuth(t, "secret")
	tok, err := a.Issue("viewer", RoleUser)
	require.NoError(t, err)
	claims, err := a.Verify(tok.AccessToken)
	require.NoError(t, err)

	a.Logout(claims)
	_, err = a.Verify(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCreateUser(t *testing.T) {
	a, s := newTestAuth(t, "")
	ctx := context.Background()

	assert.ErrorIs(t, a.CreateUser(ctx, "bob", "pw", "root"), ErrInvalidRole)
	assert.Error(t, a.CreateUser(ctx, "", "pw", RoleUser))
	require.NoError(t, a.CreateUser(ctx, "bob", "pw", RoleUser))
	assert.ErrorIs(t, a.CreateUser(ctx, "bob", "pw", RoleUser), store.ErrUserExists)

	u, err := s.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, "pw", u.PasswordHash)

	created, err := a.EnsureAdmin(ctx, "")
	require.NoError(t, err)
	assert.False(t, created)

	tok, err := a.Login(ctx, "bob", "pw")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, tok.Role)
}
