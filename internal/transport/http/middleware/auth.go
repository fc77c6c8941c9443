package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"pms/internal/domain/auth"
	"pms/internal/domain/workflow"
)

type ctxKey string

const ctxKeyUser ctxKey = "user"

// Auth attaches the bearer token's identity to the request. Requests without
// a valid token pass through anonymous; routes decide whether that is enough.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := auth.ParseToken(secret, parts[1])
			if err != nil {
				slog.Debug("bearer token rejected", "requestId", GetRequestID(r.Context()), "err", err)
				next.ServeHTTP(w, r)
				return
			}
			user, err := claims.Identity()
			if err != nil {
				slog.Debug("bearer identity rejected", "requestId", GetRequestID(r.Context()), "err", err)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func WithUser(ctx context.Context, user auth.UserContext) context.Context {
	return context.WithValue(ctx, ctxKeyUser, user)
}

func GetUser(ctx context.Context) (auth.UserContext, bool) {
	user, ok := ctx.Value(ctxKeyUser).(auth.UserContext)
	return user, ok
}

// GetActor returns the caller as a workflow actor.
func GetActor(ctx context.Context) (workflow.Actor, bool) {
	user, ok := GetUser(ctx)
	if !ok || user.UserID == "" {
		return workflow.Actor{}, false
	}
	return workflow.Actor{ID: user.UserID, Role: user.Role}, true
}
