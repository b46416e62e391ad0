package services_test

import (
	"context"
	"testing"
	"time"

	"task-market/internal/repositories"
	"task-market/internal/services"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setupAuth(t *testing.T) *services.AuthServiceImpl {
	t.Helper()
	db := openTestDB(t)
	require.NoError(t, repositories.NewMarketStore(db).Migrate(context.Background()))

	tokens := services.NewTokens("test-secret", time.Minute)
	return services.NewAuthService(db, tokens, bcrypt.MinCost, time.Hour)
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	auth := setupAuth(t)

	acct, err := auth.Register(ctx, alice, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, alice, acct.ID)
	assert.NotEqual(t, "hunter2", acct.SecretHash)

	_, err = auth.Register(ctx, alice, "other")
	assert.ErrorIs(t, err, services.ErrAccountExists)

	pair, err := auth.Login(ctx, alice, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	subject, err := services.NewTokens("test-secret", time.Minute).Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alice, subject)
}

func TestAuth_LoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	auth := setupAuth(t)

	_, err := auth.Register(ctx, alice, "hunter2")
	require.NoError(t, err)

	_, err = auth.Login(ctx, alice, "wrong")
	assert.ErrorIs(t, err, services.ErrInvalidCredentials)

	_, err = auth.Login(ctx, bob, "hunter2")
	assert.ErrorIs(t, err, services.ErrInvalidCredentials)
}

func TestAuth_RefreshIsSingleUse(t *testing.T) {
	ctx := context.Background()
	auth := setupAuth(t)

	_, err := auth.Register(ctx, alice, "hunter2")
	require.NoError(t, err)
	pair, err := auth.Login(ctx, alice, "hunter2")
	require.NoError(t, err)

	next, err := auth.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, err = auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, services.ErrInvalidToken)

	_, err = auth.Refresh(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestAuth_LogoutRevokesRefreshTokens(t *testing.T) {
	ctx := context.Background()
	auth := setupAuth(t)

	_, err := auth.Register(ctx, alice, "hunter2")
	require.NoError(t, err)
	pair, err := auth.Login(ctx, alice, "hunter2")
	require.NoError(t, err)

	require.NoError(t, auth.Logout(ctx, alice))

	_, err = auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestTokens_Verify(t *testing.T) {
	tokens := services.NewTokens("test-secret", time.Minute)

	token, expiresAt, err := tokens.Issue(carol)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	subject, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, carol, subject)

	_, err = services.NewTokens("other-secret", time.Minute).Verify(token)
	assert.ErrorIs(t, err, services.ErrInvalidToken)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   string(carol),
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := foreign.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = tokens.Verify(signed)
	assert.ErrorIs(t, err, services.ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   string(carol),
		Issuer:    services.TokenIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	signed, err = expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = tokens.Verify(signed)
	assert.ErrorIs(t, err, services.ErrInvalidToken)

	_, err = tokens.Verify("garbage")
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}
