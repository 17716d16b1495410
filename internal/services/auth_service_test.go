package services

import (
	"context"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, f *fixture, email, referral string) *dto.AuthResponse {
	t.Helper()
	resp, err := f.auth.Register(context.Background(), &dto.RegisterRequest{
		Email: email, Password: "password123", ReferralCode: referral,
	})
	require.NoError(t, err)
	return resp
}

func TestAuthService_RegisterPaysSignupBonus(t *testing.T) {
	f := newFixture(t)
	resp := register(t, f, "  New@Example.com ", "")

	assert.Equal(t, "new@example.com", resp.User.Email)
	assert.Equal(t, "new", resp.User.Nickname)
	assert.Equal(t, DefaultCreditPolicy().Signup, resp.User.Credits)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	token, err := jwt.Parse(resp.AccessToken, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	}, jwt.WithTimeFunc(func() time.Time { return f.now }))
	require.NoError(t, err)
	sub, err := token.Claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID.String(), sub)

	_, err = f.auth.Register(context.Background(), &dto.RegisterRequest{Email: "new@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = f.auth.Register(context.Background(), &dto.RegisterRequest{Email: "short@example.com", Password: "123"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuthService_AdminEmailsGetAdminRole(t *testing.T) {
	f := newFixture(t)
	resp := register(t, f, "ADMIN@example.com", "")
	assert.Equal(t, models.RoleAdmin, resp.User.Role)
}

func TestAuthService_Referral(t *testing.T) {
	f := newFixture(t)
	referrer := register(t, f, "referrer@example.com", "")

	referred := register(t, f, "friend@example.com", referrer.User.ReferralCode)
	assert.Equal(t, DefaultCreditPolicy().Signup, referred.User.Credits)

	balance, err := f.ledger.Balance(context.Background(), referrer.User.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultCreditPolicy().Signup+DefaultCreditPolicy().ReferralReward, balance)

	_, err = f.auth.Register(context.Background(), &dto.RegisterRequest{
		Email: "bogus@example.com", Password: "password123", ReferralCode: uuid.NewString(),
	})
	assert.ErrorIs(t, err, ErrValidation)

	var n int64
	f.db.Model(&models.User{}).Where("email = ?", "bogus@example.com").Count(&n)
	assert.Zero(t, n, "a failed registration leaves no account")
}

func TestAuthService_LoginRefreshLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := register(t, f, "login@example.com", "")

	_, err := f.auth.Login(ctx, &dto.LoginRequest{Email: "login@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	login, err := f.auth.Login(ctx, &dto.LoginRequest{Email: "LOGIN@example.com", Password: "password123"})
	require.NoError(t, err)

	refreshed, err := f.auth.Refresh(ctx, &dto.RefreshRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	_, err = f.auth.Refresh(ctx, &dto.RefreshRequest{RefreshToken: login.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken, "refresh tokens rotate")

	require.NoError(t, f.auth.Logout(ctx, &dto.LogoutRequest{RefreshToken: reg.RefreshToken}))
	_, err = f.auth.Refresh(ctx, &dto.RefreshRequest{RefreshToken: reg.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)

	f.advance(8 * 24 * time.Hour)
	_, err = f.auth.Refresh(ctx, &dto.RefreshRequest{RefreshToken: refreshed.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestAuthService_WithdrawClosesAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := register(t, f, "leaving@example.com", "")

	assert.ErrorIs(t, f.auth.Withdraw(ctx, reg.User.ID, "nope", ""), ErrInvalidCredentials)
	require.NoError(t, f.auth.Withdraw(ctx, reg.User.ID, "password123", "이사"))

	_, err := f.auth.GetUser(ctx, reg.User.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = f.auth.Login(ctx, &dto.LoginRequest{Email: "leaving@example.com", Password: "password123"})
	assert.Error(t, err)
	_, err = f.auth.Refresh(ctx, &dto.RefreshRequest{RefreshToken: reg.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.ledger.Apply(ctx, Entry{UserID: reg.User.ID, Amount: 5, Type: models.TxOther})
	assert.ErrorIs(t, err, ErrTerminalUser)

	var entries int64
	f.db.Model(&models.CreditTransaction{}).Where("user_id = ?", reg.User.ID).Count(&entries)
	assert.EqualValues(t, 1, entries, "history is kept")

	_, err = f.auth.Register(ctx, &dto.RegisterRequest{Email: "leaving@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestAuthService_Ban(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(models.RoleAdmin, 0)
	reg := register(t, f, "spammer@example.com", "")

	assert.ErrorIs(t, f.auth.Ban(ctx, admin.ID, admin.ID, ""), ErrValidation)
	require.NoError(t, f.auth.Ban(ctx, admin.ID, reg.User.ID, "spam"))

	_, err := f.auth.Login(ctx, &dto.LoginRequest{Email: "spammer@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrTerminalUser)

	user, err := f.auth.GetUser(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.True(t, user.IsTerminal())
}

func TestAuthService_UpdatePushSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(models.RoleUser, 0)

	token := "  fcm-token "
	require.NoError(t, f.auth.UpdatePushSettings(ctx, u.ID, &token, true))
	got, err := f.auth.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PushToken)
	assert.Equal(t, "fcm-token", *got.PushToken)

	empty := ""
	require.NoError(t, f.auth.UpdatePushSettings(ctx, u.ID, &empty, false))
	got, err = f.auth.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PushToken)
	assert.False(t, got.NotificationEnabled)

	assert.ErrorIs(t, f.auth.UpdatePushSettings(ctx, uuid.New(), nil, true), ErrUserNotFound)
}
