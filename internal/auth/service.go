package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/record"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

// VerificationType distinguishes the two one-shot token purposes of
// spec §3.1/§4.7.
type VerificationType string

const (
	VerifyEmail    VerificationType = "email_verification"
	VerifyPassword VerificationType = "password_reset"
)

const verificationTokenTTL = 2 * time.Hour

// SchemaManager is the subset of *schema.Manager the auth service needs.
type SchemaManager interface {
	GetCollection(ctx context.Context, name string) (*schema.Collection, error)
}

// Service implements the admin and per-collection user identity spaces
// (spec §4.7): token issuance/rotation, registration, login with the
// timing-attack defense, and verification-token issuance/consumption.
type Service struct {
	db        *store.DB
	schemaMgr SchemaManager
	hooks     *hooks.Registry
	tokens    *TokenService
	cfg       config.AuthConfig
	blacklist *TokenBlacklist
}

func NewService(db *store.DB, schemaMgr SchemaManager, hooksRegistry *hooks.Registry, cfg config.AuthConfig) *Service {
	return &Service{
		db:        db,
		schemaMgr: schemaMgr,
		hooks:     hooksRegistry,
		tokens:    NewTokenService(cfg.JWT),
		cfg:       cfg,
		blacklist: NewTokenBlacklist(),
	}
}

func (s *Service) Tokens() *TokenService { return s.tokens }

func (s *Service) Blacklist() *TokenBlacklist { return s.blacklist }

// --- Admin identity -------------------------------------------------------

// BootstrapAdmin ensures at least one admin row exists. If none does, it
// creates one with the given password, generating a random one if empty,
// and returns the generated password so the caller can log it once (spec
// §6.5/§6.6).
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) (*Admin, string, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _admins").Scan(&count); err != nil {
		return nil, "", fmt.Errorf("counting admins: %w", err)
	}
	if count > 0 {
		return nil, "", nil
	}

	generated := password == ""
	if generated {
		password = generateOpaqueToken(16)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("hashing bootstrap password: %w", err)
	}

	id := store.GenerateShortID()
	now := store.Now()
	err = s.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO _admins (id, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			id, email, hash, now, now,
		)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("inserting bootstrap admin: %w", err)
	}

	admin := &Admin{ID: id, Email: email}
	if generated {
		return admin, password, nil
	}
	return admin, "", nil
}

// AdminLogin verifies credentials and issues a 24h admin token. Runs the
// same timing-defense path as user login (spec §4.7, invariant 6).
func (s *Service) AdminLogin(ctx context.Context, email, password string) (*Admin, string, time.Time, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, password_hash, created_at, updated_at FROM _admins WHERE email = ?`, email)

	var id, rowEmail, hash string
	var createdAt, updatedAt string
	err := row.Scan(&id, &rowEmail, &hash, &createdAt, &updatedAt)

	var hashPtr *string
	if err == nil {
		hashPtr = &hash
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, "", time.Time{}, apierror.Internal(err)
	}

	if !verifyLoginPassword(password, hashPtr) {
		return nil, "", time.Time{}, apierror.Unauthorized("invalid login credentials")
	}

	token, expiresAt, err := s.tokens.IssueAdminToken(id)
	if err != nil {
		return nil, "", time.Time{}, apierror.Internal(err)
	}

	return &Admin{ID: id, Email: rowEmail}, token, expiresAt, nil
}

// GetAdmin loads an admin by id.
func (s *Service) GetAdmin(ctx context.Context, id string) (*Admin, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, created_at, updated_at FROM _admins WHERE id = ?`, id)
	var a Admin
	if err := row.Scan(&a.ID, &a.Email, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NotFound("admin %q not found", id)
		}
		return nil, apierror.Internal(err)
	}
	return &a, nil
}

// ChangeAdminPassword verifies the current password and sets a new one.
func (s *Service) ChangeAdminPassword(ctx context.Context, id, oldPassword, newPassword string) error {
	var hash string
	row := s.db.QueryRowContext(ctx, `SELECT password_hash FROM _admins WHERE id = ?`, id)
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NotFound("admin %q not found", id)
		}
		return apierror.Internal(err)
	}
	if !verifyPassword(oldPassword, hash) {
		return apierror.Unauthorized("current password is incorrect")
	}

	if err := ValidatePassword(newPassword, s.cfg.Password); err != nil {
		return apierror.BadRequest("%s", err.Error())
	}

	newHash, err := HashPassword(newPassword)
	if err != nil {
		return apierror.Internal(err)
	}

	return s.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE _admins SET password_hash = ?, updated_at = ? WHERE id = ?`, newHash, store.Now(), id)
		return err
	})
}

// --- User identity ---------------------------------------------------------

func (s *Service) authCollection(ctx context.Context, name string) (*schema.Collection, error) {
	coll, err := s.schemaMgr.GetCollection(ctx, name)
	if err != nil {
		return nil, apierror.NotFound("collection %q not found", name)
	}
	if coll.Type != schema.CollectionAuth {
		return nil, apierror.BadRequest("collection %q is not an auth collection", name)
	}
	return coll, nil
}

func userAllColumns(coll *schema.Collection) []string {
	cols := append([]string{}, schema.SystemColumns...)
	cols = append(cols, schema.AuthSystemColumns...)
	for _, f := range coll.Fields {
		cols = append(cols, f.Name)
	}
	return cols
}

func (s *Service) loadUserRow(ctx context.Context, coll *schema.Collection, where string, arg any) (map[string]any, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", coll.Name, where)
	row := s.db.QueryRowContext(ctx, q, arg)
	scanned, err := store.ScanRow(row, userAllColumns(coll))
	if err != nil {
		return nil, err
	}
	return scanned, nil
}

func rowToUser(coll *schema.Collection, row map[string]any) *User {
	u := &User{
		CollectionID:   coll.ID,
		CollectionName: coll.Name,
	}
	if id, ok := row["id"].(string); ok {
		u.ID = id
	}
	if email, ok := row["email"].(string); ok {
		u.Email = email
	}
	u.Verified = toBoolAny(row["verified"])
	if ts, ok := row["created_at"].(string); ok {
		u.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	if ts, ok := row["updated_at"].(string); ok {
		u.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return u
}

func toBoolAny(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t == "1"
	default:
		return false
	}
}

// Register creates a new user row in collectionName (spec §4.5): declared
// extra fields run through the normal validate+serialize pipeline, while
// email/password_hash/verified are system columns the auth layer owns
// directly. Registration honors the beforeCreate/afterCreate hook chain
// like any other create.
func (s *Service) Register(ctx context.Context, collectionName, email, password string, extra map[string]any) (*User, error) {
	if !s.cfg.AllowRegistration {
		return nil, apierror.Forbidden("registration is disabled")
	}

	coll, err := s.authCollection(ctx, collectionName)
	if err != nil {
		return nil, err
	}
	if email == "" {
		return nil, apierror.ValidationFailed(map[string]apierror.FieldError{
			"email": {Code: "required", Message: "field is required"},
		})
	}
	if err := ValidatePassword(password, s.cfg.Password); err != nil {
		return nil, apierror.ValidationFailed(map[string]apierror.FieldError{
			"password": {Code: "invalid", Message: err.Error()},
		})
	}

	serializedExtra, fieldErrs, err := record.ValidateAndSerialize(coll, extra, false)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	if len(fieldErrs) > 0 {
		return nil, apierror.ValidationFailed(fieldErrs)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	data := map[string]any{}
	for k, v := range extra {
		data[k] = v
	}
	data["email"] = email

	hctx := &hooks.Context{Event: hooks.BeforeCreate, Collection: collectionName, Data: data}
	if err := s.hooks.TriggerBefore(ctx, hctx); err != nil {
		return nil, err
	}
	if e, ok := data["email"].(string); ok {
		email = e
	}
	serializedExtra, fieldErrs, err = record.ValidateAndSerialize(coll, data, false)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	if len(fieldErrs) > 0 {
		return nil, apierror.ValidationFailed(fieldErrs)
	}

	id := store.GenerateShortID()
	now := store.Now()

	cols := []string{"id", "created_at", "updated_at", "email", "password_hash", "verified"}
	vals := []any{id, now, now, email, hash, 0}
	for name, v := range serializedExtra {
		cols = append(cols, name)
		vals = append(vals, v)
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "?"
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", coll.Name, joinCols(cols), joinCols(placeholders))

	err = s.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(insertSQL, vals...)
		return err
	})
	if err != nil {
		if ce := store.AsConstraintError(store.ClassifyError(err)); ce != nil && ce.Type == "unique" {
			return nil, apierror.Conflict("an account with this email already exists")
		}
		return nil, apierror.Internal(err)
	}

	row, err := s.loadUserRow(ctx, coll, "id", id)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	user := rowToUser(coll, row)

	s.hooks.TriggerAfter(ctx, &hooks.Context{
		Event:      hooks.AfterCreate,
		Collection: collectionName,
		Record:     record.Deserialize(coll, row),
	})

	return user, nil
}

// Login verifies credentials against collectionName and issues an
// access+refresh token pair. Runs the timing-attack defense regardless of
// whether the account exists (spec §4.7, invariant 6).
func (s *Service) Login(ctx context.Context, collectionName, email, password string) (*User, *TokenPair, error) {
	coll, err := s.authCollection(ctx, collectionName)
	if err != nil {
		return nil, nil, err
	}

	row, err := s.loadUserRow(ctx, coll, "email", email)
	var hashPtr *string
	var user *User
	if err == nil {
		user = rowToUser(coll, row)
		if h, ok := row["password_hash"].(string); ok {
			hashPtr = &h
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apierror.Internal(err)
	}

	if !verifyLoginPassword(password, hashPtr) {
		return nil, nil, apierror.Unauthorized("invalid login credentials")
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// issueTokenPair issues a fresh access token and a fresh, tracked refresh
// token row for user.
func (s *Service) issueTokenPair(ctx context.Context, user *User) (*TokenPair, error) {
	accessToken, accessExp, err := s.tokens.IssueUserAccessToken(user.ID, user.CollectionID, user.CollectionName)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	tokenID := store.GenerateShortID()
	refreshToken, refreshExp, err := s.tokens.IssueUserRefreshToken(user.ID, user.CollectionID, user.CollectionName, tokenID)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	err = s.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO _refresh_tokens (id, user_id, collection_id, token_id, created_at, expires_at, revoked) VALUES (?, ?, ?, ?, ?, ?, 0)`,
			store.GenerateShortID(), user.ID, user.CollectionID, tokenID, store.Now(), refreshExp.UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return nil, apierror.Internal(err)
	}

	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh implements token rotation (spec §4.7, invariant 5): the
// presented refresh token's tokenId is looked up, checked not-revoked and
// not-expired, atomically revoked, and a fresh access+refresh pair is
// issued. Replaying a revoked token fails with a distinct error.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*User, *TokenPair, error) {
	claims, err := s.tokens.VerifyUserRefreshToken(refreshToken)
	if err != nil {
		return nil, nil, apierror.Unauthorized("invalid refresh token")
	}

	var revoked int
	var expiresAtStr string
	row := s.db.QueryRowContext(ctx, `SELECT revoked, expires_at FROM _refresh_tokens WHERE token_id = ?`, claims.TokenID)
	if err := row.Scan(&revoked, &expiresAtStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, apierror.Unauthorized("refresh token revoked")
		}
		return nil, nil, apierror.Internal(err)
	}
	if revoked != 0 {
		return nil, nil, apierror.Unauthorized("refresh token revoked")
	}
	expiresAt, _ := time.Parse(time.RFC3339, expiresAtStr)
	if time.Now().After(expiresAt) {
		return nil, nil, apierror.Unauthorized("refresh token expired")
	}

	coll, err := s.authCollection(ctx, claims.CollectionName)
	if err != nil {
		return nil, nil, err
	}
	row2, err := s.loadUserRow(ctx, coll, "id", claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, apierror.Unauthorized("user no longer exists")
		}
		return nil, nil, apierror.Internal(err)
	}
	user := rowToUser(coll, row2)

	if err := s.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE _refresh_tokens SET revoked = 1 WHERE token_id = ?`, claims.TokenID)
		return err
	}); err != nil {
		return nil, nil, apierror.Internal(err)
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// RevokeAllUserTokens revokes every refresh token belonging to userID.
// Called on password change and password reset (spec §4.7).
func (s *Service) RevokeAllUserTokens(ctx context.Context, userID string) error {
	return s.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE _refresh_tokens SET revoked = 1 WHERE user_id = ? AND revoked = 0`, userID)
		return err
	})
}

// SweepExpiredRefreshTokens lazily drops expired refresh-token rows
// (spec §3.5).
func (s *Service) SweepExpiredRefreshTokens(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.Transaction(ctx, func(tx *store.Tx) error {
		res, err := tx.Exec(`DELETE FROM _refresh_tokens WHERE expires_at < ?`, store.Now())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Me loads a user by id within collectionName.
func (s *Service) Me(ctx context.Context, collectionName, userID string) (*User, error) {
	coll, err := s.authCollection(ctx, collectionName)
	if err != nil {
		return nil, err
	}
	row, err := s.loadUserRow(ctx, coll, "id", userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NotFound("user %q not found", userID)
		}
		return nil, apierror.Internal(err)
	}
	return rowToUser(coll, row), nil
}

// ChangePassword verifies the current password, sets a new one, and
// revokes every outstanding refresh token for the user (spec §4.7).
func (s *Service) ChangePassword(ctx context.Context, collectionName, userID, oldPassword, newPassword string) error {
	coll, err := s.authCollection(ctx, collectionName)
	if err != nil {
		return err
	}
	row, err := s.loadUserRow(ctx, coll, "id", userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NotFound("user %q not found", userID)
		}
		return apierror.Internal(err)
	}
	hash, _ := row["password_hash"].(string)
	if !verifyPassword(oldPassword, hash) {
		return apierror.Unauthorized("current password is incorrect")
	}
	if err := ValidatePassword(newPassword, s.cfg.Password); err != nil {
		return apierror.BadRequest("%s", err.Error())
	}
	newHash, err := HashPassword(newPassword)
	if err != nil {
		return apierror.Internal(err)
	}

	if err := s.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(fmt.Sprintf("UPDATE %s SET password_hash = ?, updated_at = ? WHERE id = ?", coll.Name), newHash, store.Now(), userID)
		return err
	}); err != nil {
		return apierror.Internal(err)
	}

	return s.RevokeAllUserTokens(ctx, userID)
}

// --- Verification tokens ---------------------------------------------------

// generateOpaqueToken returns a random hex string of n bytes (2n chars).
func generateOpaqueToken(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IssueVerificationToken creates a new 64-character opaque token of the
// given type for userID, invalidating outstanding unused tokens of the
// same (user, type) first (spec §4.7). Only the SHA-256 hash is stored;
// the plaintext token is returned once for the caller to deliver (by
// email, outside this package's scope).
func (s *Service) IssueVerificationToken(ctx context.Context, userID, collectionName string, vtype VerificationType) (string, error) {
	token := generateOpaqueToken(32)
	hash := hashToken(token)
	expiresAt := time.Now().Add(verificationTokenTTL).UTC().Format(time.RFC3339)

	err := s.db.Transaction(ctx, func(tx *store.Tx) error {
		if _, err := tx.Exec(
			`UPDATE _verification_tokens SET used = 1 WHERE user_id = ? AND type = ? AND used = 0`,
			userID, string(vtype),
		); err != nil {
			return err
		}
		_, err := tx.Exec(
			`INSERT INTO _verification_tokens (id, user_id, collection_name, token_hash, type, expires_at, used, created_at) VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
			store.GenerateShortID(), userID, collectionName, hash, string(vtype), expiresAt, store.Now(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("issuing verification token: %w", err)
	}
	return token, nil
}

// ConsumeVerificationToken validates and marks used a verification token
// of the expected type, returning the bound user id and collection name
// (spec §4.7).
func (s *Service) ConsumeVerificationToken(ctx context.Context, token string, vtype VerificationType) (userID, collectionName string, err error) {
	hash := hashToken(token)

	var id string
	var used int
	var expiresAtStr string
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, collection_name, used, expires_at FROM _verification_tokens WHERE token_hash = ? AND type = ?`,
		hash, string(vtype),
	)
	if scanErr := row.Scan(&id, &userID, &collectionName, &used, &expiresAtStr); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return "", "", apierror.BadRequest("invalid or expired token")
		}
		return "", "", apierror.Internal(scanErr)
	}
	if used != 0 {
		return "", "", apierror.BadRequest("invalid or expired token")
	}
	expiresAt, _ := time.Parse(time.RFC3339, expiresAtStr)
	if time.Now().After(expiresAt) {
		return "", "", apierror.BadRequest("invalid or expired token")
	}

	if txErr := s.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE _verification_tokens SET used = 1 WHERE id = ?`, id)
		return err
	}); txErr != nil {
		return "", "", apierror.Internal(txErr)
	}

	return userID, collectionName, nil
}

// VerifyEmailToken consumes an email-verification token and marks the
// bound user's row verified.
func (s *Service) VerifyEmailToken(ctx context.Context, token string) error {
	userID, collectionName, err := s.ConsumeVerificationToken(ctx, token, VerifyEmail)
	if err != nil {
		return err
	}
	coll, err := s.authCollection(ctx, collectionName)
	if err != nil {
		return err
	}
	return s.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(fmt.Sprintf("UPDATE %s SET verified = 1, updated_at = ? WHERE id = ?", coll.Name), store.Now(), userID)
		return err
	})
}

// RequestPasswordReset issues a password-reset token for the account
// matching email in collectionName. To avoid revealing account existence,
// it always reports success; on an unknown email, it returns ("", nil)
// without issuing a token or sending mail (spec §4.7).
func (s *Service) RequestPasswordReset(ctx context.Context, collectionName, email string) (string, error) {
	coll, err := s.authCollection(ctx, collectionName)
	if err != nil {
		return "", err
	}
	row, err := s.loadUserRow(ctx, coll, "email", email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", apierror.Internal(err)
	}
	userID, _ := row["id"].(string)
	return s.IssueVerificationToken(ctx, userID, collectionName, VerifyPassword)
}

// ResetPassword consumes a password-reset token and sets a new password,
// revoking every outstanding refresh token for the account.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, collectionName, err := s.ConsumeVerificationToken(ctx, token, VerifyPassword)
	if err != nil {
		return err
	}
	if err := ValidatePassword(newPassword, s.cfg.Password); err != nil {
		return apierror.BadRequest("%s", err.Error())
	}
	coll, err := s.authCollection(ctx, collectionName)
	if err != nil {
		return err
	}
	newHash, err := HashPassword(newPassword)
	if err != nil {
		return apierror.Internal(err)
	}
	if err := s.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(fmt.Sprintf("UPDATE %s SET password_hash = ?, updated_at = ? WHERE id = ?", coll.Name), newHash, store.Now(), userID)
		return err
	}); err != nil {
		return apierror.Internal(err)
	}
	return s.RevokeAllUserTokens(ctx, userID)
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
