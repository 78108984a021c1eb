package auth

import (
	"context"
	"net/http"
	"strings"
)

// ExtractBearerToken returns the bearer token carried by the Authorization
// header, or "" if none is present.
func ExtractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Resolve attempts to resolve token as either an admin or a user access
// token, trying admin first. An empty or invalid token resolves to the
// zero Identity (anonymous) rather than an error — callers that require
// authentication check Identity.IsAuthenticated() themselves, since the
// same middleware path also serves public routes (spec §4.7/§4.10).
func (s *Service) Resolve(ctx context.Context, token string) Identity {
	if token == "" {
		return Identity{}
	}
	if s.blacklist.IsRevoked(token) {
		return Identity{}
	}

	if adminID, err := s.tokens.VerifyAdminToken(token); err == nil {
		admin, err := s.GetAdmin(ctx, adminID)
		if err == nil {
			return Identity{Admin: admin}
		}
	}

	if claims, err := s.tokens.VerifyUserAccessToken(token); err == nil {
		user, err := s.Me(ctx, claims.CollectionName, claims.UserID)
		if err == nil {
			return Identity{User: user}
		}
	}

	return Identity{}
}

// Middleware resolves the bearer token on every request into an Identity
// attached to the request context. It never rejects a request itself —
// rule evaluation and handler-level checks enforce authorization; this
// just makes the caller's identity available (spec §4.7).
func Middleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r)
			identity := service.Resolve(r.Context(), token)
			r = r.WithContext(ContextWithIdentity(r.Context(), identity))
			next.ServeHTTP(w, r)
		})
	}
}
