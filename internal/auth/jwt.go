package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bunbase/bunbase/internal/config"
)

// AdminTokenTTL is fixed per spec §4.7: admin tokens do not rotate, so
// losing one simply requires re-login.
const AdminTokenTTL = 24 * time.Hour

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token has expired")
	ErrWrongTokenType  = errors.New("wrong token type")
	ErrMissingSubject  = errors.New("token missing subject")
)

// tokenType distinguishes the three JWS claim shapes this package issues.
type tokenType string

const (
	typeAdmin   tokenType = "admin"
	typeAccess  tokenType = "access"
	typeRefresh tokenType = "refresh"
)

// adminClaims is the admin bearer token's claim set (spec §4.7): a single
// short secret, 24h lifetime, claim {adminId}.
type adminClaims struct {
	jwt.RegisteredClaims
	AdminID string    `json:"adminId"`
	Type    tokenType `json:"type"`
}

// userClaims is the user access/refresh token's claim set (spec §4.7):
// {userId, collectionId, collectionName, type}, with tokenId added for
// refresh tokens.
type userClaims struct {
	jwt.RegisteredClaims
	UserID         string    `json:"userId"`
	CollectionID   string    `json:"collectionId"`
	CollectionName string    `json:"collectionName"`
	Type           tokenType `json:"type"`
	TokenID        string    `json:"tokenId,omitempty"`
}

// UserClaims is the verified, exported form of userClaims handed back to
// callers.
type UserClaims struct {
	UserID         string
	CollectionID   string
	CollectionName string
	TokenID        string
}

// TokenService signs and verifies every JWS this process issues. The
// secret is process-wide, initialized once at startup (spec §9).
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}
}

func (s *TokenService) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// IssueAdminToken signs a 24h admin bearer token.
func (s *TokenService) IssueAdminToken(adminID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(AdminTokenTTL)
	claims := adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AdminID: adminID,
		Type:    typeAdmin,
	}
	signed, err := s.sign(claims)
	return signed, expiresAt, err
}

// VerifyAdminToken verifies an admin token and returns the admin id.
func (s *TokenService) VerifyAdminToken(tokenString string) (string, error) {
	claims, err := s.parse(tokenString, &adminClaims{})
	if err != nil {
		return "", err
	}
	ac := claims.(*adminClaims)
	if ac.Type != typeAdmin {
		return "", ErrWrongTokenType
	}
	if ac.AdminID == "" {
		return "", ErrMissingSubject
	}
	return ac.AdminID, nil
}

// IssueUserAccessToken signs a 15-minute access token for a user bound to
// one auth collection.
func (s *TokenService) IssueUserAccessToken(userID, collectionID, collectionName string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTTL)
	claims := userClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:         userID,
		CollectionID:   collectionID,
		CollectionName: collectionName,
		Type:           typeAccess,
	}
	signed, err := s.sign(claims)
	return signed, expiresAt, err
}

// IssueUserRefreshToken signs a 7-day refresh token carrying tokenID, the
// opaque row identifier tracked in the refresh-token table for rotation
// (spec §4.7).
func (s *TokenService) IssueUserRefreshToken(userID, collectionID, collectionName, tokenID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.refreshTTL)
	claims := userClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:         userID,
		CollectionID:   collectionID,
		CollectionName: collectionName,
		Type:           typeRefresh,
		TokenID:        tokenID,
	}
	signed, err := s.sign(claims)
	return signed, expiresAt, err
}

func (s *TokenService) verifyUserToken(tokenString string, want tokenType) (*UserClaims, error) {
	claims, err := s.parse(tokenString, &userClaims{})
	if err != nil {
		return nil, err
	}
	uc := claims.(*userClaims)
	if uc.Type != want {
		return nil, ErrWrongTokenType
	}
	if uc.UserID == "" {
		return nil, ErrMissingSubject
	}
	return &UserClaims{
		UserID:         uc.UserID,
		CollectionID:   uc.CollectionID,
		CollectionName: uc.CollectionName,
		TokenID:        uc.TokenID,
	}, nil
}

// VerifyUserAccessToken verifies an access token, rejecting refresh
// tokens outright (spec §4.7: type is checked on verify).
func (s *TokenService) VerifyUserAccessToken(tokenString string) (*UserClaims, error) {
	return s.verifyUserToken(tokenString, typeAccess)
}

// VerifyUserRefreshToken verifies a refresh token, rejecting access
// tokens outright.
func (s *TokenService) VerifyUserRefreshToken(tokenString string) (*UserClaims, error) {
	return s.verifyUserToken(tokenString, typeRefresh)
}

func (s *TokenService) parse(tokenString string, claims jwt.Claims) (jwt.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return token.Claims, nil
}
