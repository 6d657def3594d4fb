package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type ctxKey struct{}

// FromContext returns the token attached by Middleware.
func FromContext(ctx context.Context) (Token, bool) {
	tok, ok := ctx.Value(ctxKey{}).(Token)
	return tok, ok
}

// Middleware rejects requests without a valid bearer token. Paths in public
// pass through. Paths in queryToken also accept ?token= so browsers can
// follow plain download links.
func (a *Authenticator) Middleware(public, queryToken []string) func(http.Handler) http.Handler {
	isPublic := toSet(public)
	allowsQuery := toSet(queryToken)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := isPublic[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			value := BearerToken(r)
			if value == "" {
				if _, ok := allowsQuery[r.URL.Path]; ok {
					value = r.URL.Query().Get("token")
				}
			}
			if value == "" {
				unauthorized(w, "missing authentication token")
				return
			}

			tok, ok := a.Verify(value)
			if !ok {
				unauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, tok)))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, value, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
