// Package auth implements the two disjoint identity spaces BunBase
// recognizes (spec §4.7): a single admin space, and a per-auth-collection
// user space. Tokens for one are never valid for the other.
package auth

import (
	"context"
	"time"
)

// Admin is the opaque admin identity (spec §3.4). It never exposes its
// password hash.
type Admin struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is the opaque per-auth-collection identity (spec §3.4). Tokens
// always encode both CollectionID and CollectionName so the holder is
// bound to one collection.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Verified       bool      `json:"verified"`
	CollectionID   string    `json:"collectionId"`
	CollectionName string    `json:"collectionName"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TokenPair is the access+refresh pair returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"token"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"-"`
}

// contextKey namespaces values this package stores on a request context.
type contextKey string

const (
	identityContextKey contextKey = "bunbase_identity"
)

// Identity is the resolved caller attached to a request context by the
// auth middleware: exactly one of Admin or User is non-nil, or both are
// nil for an anonymous request.
type Identity struct {
	Admin *Admin
	User  *User
}

func (i Identity) IsAdmin() bool { return i.Admin != nil }

func (i Identity) IsAuthenticated() bool { return i.Admin != nil || i.User != nil }

// ContextWithIdentity attaches identity to ctx.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity attached by the auth
// middleware. An unauthenticated request yields the zero Identity.
func IdentityFromContext(ctx context.Context) Identity {
	if identity, ok := ctx.Value(identityContextKey).(Identity); ok {
		return identity
	}
	return Identity{}
}
