package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bunbase/bunbase/internal/apierror"
)

func TestAdminListUsersPaginates(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Register(ctx, "users", emailFor(i), "Password123!", nil)
		require.NoError(t, err)
	}

	users, total, err := svc.AdminListUsers(ctx, "users", 1, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, users, 2)
}

func TestAdminUpdateUserSetsVerifiedAndEmail(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	user, err := svc.Register(ctx, "users", "a@example.com", "Password123!", nil)
	require.NoError(t, err)
	require.False(t, user.Verified)

	newEmail := "b@example.com"
	verified := true
	updated, err := svc.AdminUpdateUser(ctx, "users", user.ID, AdminUpdateUserInput{
		Email:    &newEmail,
		Verified: &verified,
	})
	require.NoError(t, err)
	require.Equal(t, newEmail, updated.Email)
	require.True(t, updated.Verified)
}

func TestAdminDeleteUserRemovesRowAndRevokesTokens(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	user, err := svc.Register(ctx, "users", "a@example.com", "Password123!", nil)
	require.NoError(t, err)

	_, pair, err := svc.Login(ctx, "users", "a@example.com", "Password123!")
	require.NoError(t, err)

	require.NoError(t, svc.AdminDeleteUser(ctx, "users", user.ID))

	_, err = svc.AdminGetUser(ctx, "users", user.ID)
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.CodeNotFound, apiErr.Kind)

	_, _, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
}

func TestAdminSetPasswordBypassesOldPassword(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	user, err := svc.Register(ctx, "users", "a@example.com", "Password123!", nil)
	require.NoError(t, err)

	require.NoError(t, svc.AdminSetPassword(ctx, "users", user.ID, "BrandNew123!"))

	_, _, err = svc.Login(ctx, "users", "a@example.com", "Password123!")
	require.Error(t, err)

	_, _, err = svc.Login(ctx, "users", "a@example.com", "BrandNew123!")
	require.NoError(t, err)
}

func emailFor(i int) string {
	letters := "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i]) + "@example.com"
}
