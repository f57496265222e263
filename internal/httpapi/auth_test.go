package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokopos/internal/domain"
	"tokopos/internal/store/memory"
)

func TestLoginIssuesParsableToken(t *testing.T) {
	repo := memory.NewSeeded(memory.Options{})
	auth := NewAuthManager("unit-test-secret-0123456789abcdef", time.Hour, repo)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{
		Email:    " Admin@Demo.com ",
		Password: "admin123",
	})
	require.NoError(t, err)
	require.Equal(t, "admin@demo.com", resp.Profile.Email)
	require.Empty(t, resp.Profile.PasswordHash)

	actor, err := auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-owner-1", actor.ProfileID)
	require.Equal(t, domain.RoleOwner, actor.Role)
	require.Equal(t, "store-1", actor.StoreID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	repo := memory.NewSeeded(memory.Options{})
	auth := NewAuthManager("unit-test-secret-0123456789abcdef", time.Hour, repo)
	ctx := context.Background()

	_, err := auth.Login(ctx, domain.LoginRequest{Email: "admin@demo.com", Password: "nope"})
	require.EqualError(t, err, "invalid credentials")

	// Unknown emails fail with the same message as bad passwords.
	_, err = auth.Login(ctx, domain.LoginRequest{Email: "ghost@demo.com", Password: "nope"})
	require.EqualError(t, err, "invalid credentials")
}

func TestParseTokenRejectsExpiredAndForeign(t *testing.T) {
	repo := memory.NewSeeded(memory.Options{})
	auth := NewAuthManager("unit-test-secret-0123456789abcdef", time.Nanosecond, repo)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{
		Email:    "cashier@demo.com",
		Password: "cashier123",
	})
	require.NoError(t, err)

	_, err = auth.ParseToken(resp.AccessToken)
	require.Error(t, err)

	other := NewAuthManager("a-completely-different-secret-value!", time.Hour, repo)
	otherResp, err := other.Login(context.Background(), domain.LoginRequest{
		Email:    "cashier@demo.com",
		Password: "cashier123",
	})
	require.NoError(t, err)

	_, err = auth.ParseToken(otherResp.AccessToken)
	require.Error(t, err)
}

func TestActorContextRoundTrip(t *testing.T) {
	actor := domain.Actor{ProfileID: "p-1", Role: domain.RoleCashier, StoreID: "store-1"}
	ctx := WithActor(context.Background(), actor)

	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, actor, got)

	_, ok = ActorFromContext(context.Background())
	require.False(t, ok)
}
