package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/session"
)

type contextKey string

const ownerIDKey contextKey = "ownerID"

// JWTAuth validates the bearer token and stores the resolved owner id in the
// request context.
func JWTAuth(v session.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || token == "" {
				writeError(w, apperr.Unauthenticated("invalid or missing bearer token"))
				return
			}
			ownerID, err := v.Validate(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerFromContext returns the authenticated owner id.
func OwnerFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ownerIDKey).(int64)
	return id, ok
}

func ownerID(r *http.Request) int64 {
	id, _ := OwnerFromContext(r.Context())
	return id
}
