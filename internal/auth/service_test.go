package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWT: config.JWTConfig{
			Secret:     "test-secret-at-least-32-bytes-long!!",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "bunbase-test",
		},
		Password: config.PasswordConfig{
			MinLength: 8,
		},
		AllowRegistration: true,
	}
}

func testService(t *testing.T) (*Service, *schema.Manager) {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
	db, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, schema.Bootstrap(context.Background(), db))

	schemaMgr := schema.NewManager(db)
	svc := NewService(db, schemaMgr, hooks.NewRegistry(), testAuthConfig())
	return svc, schemaMgr
}

func createUsersCollection(t *testing.T, mgr *schema.Manager) {
	t.Helper()
	_, err := mgr.CreateCollection(context.Background(), schema.CreateCollectionInput{
		Name: "users",
		Type: schema.CollectionAuth,
		Fields: []schema.FieldInput{
			{Name: "name", Type: schema.FieldText},
		},
	})
	require.NoError(t, err)
}

func TestBootstrapAdminCreatesFirstAdminOnly(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	admin, generated, err := svc.BootstrapAdmin(ctx, "admin@example.com", "")
	require.NoError(t, err)
	require.NotNil(t, admin)
	require.Equal(t, "admin@example.com", admin.Email)
	require.NotEmpty(t, generated)

	admin2, generated2, err := svc.BootstrapAdmin(ctx, "someone-else@example.com", "")
	require.NoError(t, err)
	require.Nil(t, admin2)
	require.Empty(t, generated2)
}

func TestBootstrapAdminWithExplicitPassword(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	admin, generated, err := svc.BootstrapAdmin(ctx, "admin@example.com", "explicit-pass")
	require.NoError(t, err)
	require.NotNil(t, admin)
	require.Empty(t, generated)

	_, _, _, err = svc.AdminLogin(ctx, "admin@example.com", "explicit-pass")
	require.NoError(t, err)
}

func TestAdminLoginRejectsWrongPassword(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, _, err := svc.BootstrapAdmin(ctx, "admin@example.com", "correct-pass")
	require.NoError(t, err)

	_, _, _, err = svc.AdminLogin(ctx, "admin@example.com", "wrong-pass")
	require.Error(t, err)
}

func TestAdminLoginUnknownEmailFailsLikeWrongPassword(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, _, err := svc.BootstrapAdmin(ctx, "admin@example.com", "correct-pass")
	require.NoError(t, err)

	_, _, _, err = svc.AdminLogin(ctx, "nobody@example.com", "whatever")
	require.Error(t, err)
}

func TestChangeAdminPassword(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	admin, _, err := svc.BootstrapAdmin(ctx, "admin@example.com", "old-password")
	require.NoError(t, err)

	require.NoError(t, svc.ChangeAdminPassword(ctx, admin.ID, "old-password", "new-password"))

	_, _, _, err = svc.AdminLogin(ctx, "admin@example.com", "old-password")
	require.Error(t, err)
	_, _, _, err = svc.AdminLogin(ctx, "admin@example.com", "new-password")
	require.NoError(t, err)
}

func TestChangeAdminPasswordRejectsWrongCurrentPassword(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	admin, _, err := svc.BootstrapAdmin(ctx, "admin@example.com", "old-password")
	require.NoError(t, err)

	err = svc.ChangeAdminPassword(ctx, admin.ID, "wrong", "new-password")
	require.Error(t, err)
}

func TestRegisterAndLogin(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	user, err := svc.Register(ctx, "users", "person@example.com", "Password1", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.Equal(t, "person@example.com", user.Email)
	require.False(t, user.Verified)

	loggedIn, pair, err := svc.Login(ctx, "users", "person@example.com", "Password1")
	require.NoError(t, err)
	require.Equal(t, user.ID, loggedIn.ID)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	_, err := svc.Register(ctx, "users", "person@example.com", "Password1", nil)
	require.NoError(t, err)

	_, err = svc.Register(ctx, "users", "person@example.com", "Password1", nil)
	require.Error(t, err)
}

func TestRegisterDisabledWhenNotAllowed(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	svc.cfg.AllowRegistration = false
	ctx := context.Background()

	_, err := svc.Register(ctx, "users", "person@example.com", "Password1", nil)
	require.Error(t, err)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	_, err := svc.Register(ctx, "users", "person@example.com", "Password1", nil)
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "users", "person@example.com", "wrong-password")
	require.Error(t, err)
}

func TestLoginUnknownEmailFailsLikeWrongPassword(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	_, _, err := svc.Login(ctx, "users", "nobody@example.com", "whatever")
	require.Error(t, err)
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	_, err := svc.Register(ctx, "users", "person@example.com", "Password1", nil)
	require.NoError(t, err)

	_, pair, err := svc.Login(ctx, "users", "person@example.com", "Password1")
	require.NoError(t, err)

	_, newPair, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.AccessToken, newPair.AccessToken)
	require.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)

	// Replaying the old (now-revoked) refresh token must fail.
	_, _, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
}

func TestMeLoadsUserByID(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	user, err := svc.Register(ctx, "users", "person@example.com", "Password1", nil)
	require.NoError(t, err)

	loaded, err := svc.Me(ctx, "users", user.ID)
	require.NoError(t, err)
	require.Equal(t, user.Email, loaded.Email)
}

func TestChangePasswordRevokesOutstandingTokens(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	user, err := svc.Register(ctx, "users", "person@example.com", "Password1", nil)
	require.NoError(t, err)

	_, pair, err := svc.Login(ctx, "users", "person@example.com", "Password1")
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword(ctx, "users", user.ID, "Password1", "NewPassword1"))

	_, _, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)

	_, _, err = svc.Login(ctx, "users", "person@example.com", "NewPassword1")
	require.NoError(t, err)
}

func TestEmailVerificationFlow(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	user, err := svc.Register(ctx, "users", "person@example.com", "Password1", nil)
	require.NoError(t, err)

	token, err := svc.IssueVerificationToken(ctx, user.ID, "users", VerifyEmail)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, svc.VerifyEmailToken(ctx, token))

	loaded, err := svc.Me(ctx, "users", user.ID)
	require.NoError(t, err)
	require.True(t, loaded.Verified)

	// The token is single-use.
	err = svc.VerifyEmailToken(ctx, token)
	require.Error(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	_, err := svc.Register(ctx, "users", "person@example.com", "Password1", nil)
	require.NoError(t, err)

	token, err := svc.RequestPasswordReset(ctx, "users", "person@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, svc.ResetPassword(ctx, token, "BrandNewPass1"))

	_, _, err = svc.Login(ctx, "users", "person@example.com", "Password1")
	require.Error(t, err)
	_, _, err = svc.Login(ctx, "users", "person@example.com", "BrandNewPass1")
	require.NoError(t, err)
}

func TestRequestPasswordResetUnknownEmailDoesNotError(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	token, err := svc.RequestPasswordReset(ctx, "users", "nobody@example.com")
	require.NoError(t, err)
	require.Empty(t, token)
}

func TestSweepExpiredRefreshTokens(t *testing.T) {
	svc, mgr := testService(t)
	createUsersCollection(t, mgr)
	ctx := context.Background()

	_, err := svc.Register(ctx, "users", "person@example.com", "Password1", nil)
	require.NoError(t, err)
	_, _, err = svc.Login(ctx, "users", "person@example.com", "Password1")
	require.NoError(t, err)

	n, err := svc.SweepExpiredRefreshTokens(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
