// Package session authenticates callers. A bearer token resolves to the
// owner id every other component scopes its data by.
package session

import (
	"context"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/clock"
)

const audience = "offsync-api"

// Validator resolves a bearer token to its owner.
type Validator interface {
	Validate(ctx context.Context, token string) (int64, error)
}

// Claims are the JWT claims carried by offsync session tokens. The subject
// holds the owner id in decimal and must agree with OwnerID.
type Claims struct {
	jwt.RegisteredClaims
	OwnerID int64 `json:"owner_id"`
}

// JWT issues and validates HS256 session tokens.
type JWT struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

// NewJWT returns a JWT validator. A nil clock uses wall time.
func NewJWT(secret, issuer string, clk clock.Clock) *JWT {
	if clk == nil {
		clk = clock.Real()
	}
	return &JWT{secret: []byte(secret), issuer: issuer, clock: clk}
}

// Issue signs a token for ownerID that expires after ttl.
func (j *JWT) Issue(ownerID int64, ttl time.Duration) (string, error) {
	if ownerID <= 0 {
		return "", apperr.InvalidArgument("owner id must be positive, got %d", ownerID)
	}
	now := j.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   strconv.FormatInt(ownerID, 10),
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		OwnerID: ownerID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Validate returns the owner id carried by a valid token. Any failure is
// reported as Unauthenticated without detail.
func (j *JWT) Validate(_ context.Context, tokenString string) (int64, error) {
	if tokenString == "" {
		return 0, apperr.Unauthenticated("missing token")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.ErrUnauthenticated
		}
		return j.secret, nil
	},
		jwt.WithIssuer(j.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.clock.Now),
	)
	if err != nil {
		return 0, apperr.Unauthenticated("invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.OwnerID <= 0 || claims.Subject != strconv.FormatInt(claims.OwnerID, 10) {
		return 0, apperr.Unauthenticated("invalid or expired token")
	}
	return claims.OwnerID, nil
}
