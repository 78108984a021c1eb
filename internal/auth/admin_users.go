package auth

import (
	"context"
	"fmt"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/record"
	"github.com/bunbase/bunbase/internal/store"
)

// AdminListUsers pages through every user row of an auth collection,
// mirroring the donor's admin user-management surface
// (SPEC_FULL.md's supplemental features) but scoped to one collection
// rather than a single global users table.
func (s *Service) AdminListUsers(ctx context.Context, collectionName string, page, perPage int) ([]*User, int, error) {
	coll, err := s.authCollection(ctx, collectionName)
	if err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 30
	}
	if perPage > 500 {
		perPage = 500
	}

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", coll.Name)).Scan(&total); err != nil {
		return nil, 0, apierror.Internal(err)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s ORDER BY created_at LIMIT ? OFFSET ?", coll.Name),
		perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, 0, apierror.Internal(err)
	}
	defer rows.Close()

	scanned, err := store.ScanRows(rows)
	if err != nil {
		return nil, 0, apierror.Internal(err)
	}

	users := make([]*User, 0, len(scanned))
	for _, row := range scanned {
		users = append(users, rowToUser(coll, map[string]any(row)))
	}

	return users, total, nil
}

// AdminGetUser loads a single user by id within collectionName.
func (s *Service) AdminGetUser(ctx context.Context, collectionName, userID string) (*User, error) {
	return s.Me(ctx, collectionName, userID)
}

// AdminUpdateUserInput describes the admin-editable fields of a user row.
// Nil fields are left unchanged.
type AdminUpdateUserInput struct {
	Email    *string
	Verified *bool
	Extra    map[string]any
}

// AdminUpdateUser patches a user's system columns (email, verified) and any
// declared extra fields, bypassing the old-password check a self-service
// change requires.
func (s *Service) AdminUpdateUser(ctx context.Context, collectionName, userID string, in AdminUpdateUserInput) (*User, error) {
	coll, err := s.authCollection(ctx, collectionName)
	if err != nil {
		return nil, err
	}

	sets := []string{"updated_at = ?"}
	args := []any{store.Now()}

	if in.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *in.Email)
	}
	if in.Verified != nil {
		v := 0
		if *in.Verified {
			v = 1
		}
		sets = append(sets, "verified = ?")
		args = append(args, v)
	}

	if len(in.Extra) > 0 {
		serialized, fieldErrs, err := record.ValidateAndSerialize(coll, in.Extra, true)
		if err != nil {
			return nil, apierror.Internal(err)
		}
		if len(fieldErrs) > 0 {
			return nil, apierror.ValidationFailed(fieldErrs)
		}
		for name, v := range serialized {
			sets = append(sets, name+" = ?")
			args = append(args, v)
		}
	}

	args = append(args, userID)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", coll.Name, joinCols(sets))

	err = s.db.Transaction(ctx, func(tx *store.Tx) error {
		res, err := tx.Exec(q, args...)
		if err != nil {
			if ce := store.AsConstraintError(store.ClassifyError(err)); ce != nil && ce.Type == "unique" {
				return apierror.Conflict("an account with this email already exists")
			}
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apierror.NotFound("user %q not found", userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Me(ctx, collectionName, userID)
}

// AdminDeleteUser removes a user row and revokes its outstanding refresh
// tokens.
func (s *Service) AdminDeleteUser(ctx context.Context, collectionName, userID string) error {
	coll, err := s.authCollection(ctx, collectionName)
	if err != nil {
		return err
	}

	err = s.db.Transaction(ctx, func(tx *store.Tx) error {
		res, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", coll.Name), userID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apierror.NotFound("user %q not found", userID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.RevokeAllUserTokens(ctx, userID)
}

// AdminSetPassword sets a user's password directly, without the
// old-password check self-service change requires, and revokes all of
// their outstanding refresh tokens (spec §4.7).
func (s *Service) AdminSetPassword(ctx context.Context, collectionName, userID, newPassword string) error {
	coll, err := s.authCollection(ctx, collectionName)
	if err != nil {
		return err
	}
	if err := ValidatePassword(newPassword, s.cfg.Password); err != nil {
		return apierror.BadRequest("%s", err.Error())
	}
	newHash, err := HashPassword(newPassword)
	if err != nil {
		return apierror.Internal(err)
	}

	err = s.db.Transaction(ctx, func(tx *store.Tx) error {
		res, execErr := tx.Exec(fmt.Sprintf("UPDATE %s SET password_hash = ?, updated_at = ? WHERE id = ?", coll.Name), newHash, store.Now(), userID)
		if execErr != nil {
			return execErr
		}
		n, execErr := res.RowsAffected()
		if execErr != nil {
			return execErr
		}
		if n == 0 {
			return apierror.NotFound("user %q not found", userID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.RevokeAllUserTokens(ctx, userID)
}
