package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pms/internal/domain/auth"
)

func TestAuthMiddlewareSetsUser(t *testing.T) {
	secret := "test-secret"
	token, err := auth.GenerateToken(secret, auth.Claims{UserID: "u1", RoleName: "manager"}, time.Hour)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	called := false
	handler := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		actor, ok := GetActor(r.Context())
		if !ok {
			t.Fatal("expected actor in context")
		}
		if actor.ID != "u1" || actor.Role != auth.RoleManager {
			t.Fatalf("unexpected actor: %+v", actor)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected handler to run")
	}
}

func TestAuthMiddlewareLeavesRequestAnonymous(t *testing.T) {
	expired, err := auth.GenerateToken("secret", auth.Claims{UserID: "u1", RoleName: "hr"}, -time.Minute)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	unknownRole, err := auth.GenerateToken("secret", auth.Claims{UserID: "u1", RoleName: "admin"}, time.Hour)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	cases := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage", header: "Bearer not-a-token"},
		{name: "expired", header: "Bearer " + expired},
		{name: "unknown role", header: "Bearer " + unknownRole},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := Auth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, ok := GetUser(r.Context()); ok {
					t.Fatal("did not expect user in context")
				}
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
		})
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := RequireRole(auth.RoleHR)(ok)

	cases := []struct {
		name string
		user *auth.UserContext
		want int
	}{
		{name: "anonymous", want: http.StatusUnauthorized},
		{name: "wrong role", user: &auth.UserContext{UserID: "m1", Role: auth.RoleManager}, want: http.StatusForbidden},
		{name: "allowed", user: &auth.UserContext{UserID: "h1", Role: auth.RoleHR}, want: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/cycles", nil)
			if tc.user != nil {
				req = req.WithContext(WithUser(req.Context(), *tc.user))
			}
			rec := httptest.NewRecorder()
			guarded.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestRequestIDReusesHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "req-123" || rec.Header().Get("X-Request-ID") != "req-123" {
		t.Fatalf("expected propagated request id, got %q", seen)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "req-123" {
		t.Fatalf("expected generated request id, got %q", seen)
	}
}
