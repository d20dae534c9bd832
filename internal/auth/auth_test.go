package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIdentityCanAccessOwner(t *testing.T) {
	cases := []struct {
		name  string
		id    *Identity
		owner string
		want  bool
	}{
		{"nil identity unowned machine", nil, "", true},
		{"nil identity owned machine", nil, "user:a", false},
		{"admin accesses anything", &Identity{Subject: "user:a", Admin: true}, "user:b", true},
		{"owner accesses own machine", &Identity{Subject: "user:a"}, "user:a", true},
		{"non-owner denied", &Identity{Subject: "user:a"}, "user:b", false},
		{"unowned machine always accessible", &Identity{Subject: "user:a"}, "", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.id.CanAccessOwner(c.owner); got != c.want {
				t.Fatalf("CanAccessOwner(%q) = %v, want %v", c.owner, got, c.want)
			}
		})
	}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	a := NewAPIKeyAuthenticator([]StaticKey{
		{Key: "k-admin", Subject: "user:root", Admin: true},
		{Key: "k-user", Subject: "user:alice"},
	})

	req := httptest.NewRequest(http.MethodGet, "/machines", nil)
	if id := a.Authenticate(req); id != nil {
		t.Fatalf("expected nil identity with no header, got %+v", id)
	}

	req.Header.Set("X-Api-Key", "k-user")
	id := a.Authenticate(req)
	if id == nil || id.Subject != "user:alice" || id.Admin {
		t.Fatalf("unexpected identity: %+v", id)
	}

	req.Header.Set("X-Api-Key", "bogus")
	if id := a.Authenticate(req); id != nil {
		t.Fatalf("expected nil identity for unknown key, got %+v", id)
	}
}

func TestMiddlewarePublicPathBypassesAuth(t *testing.T) {
	called := false
	handler := Middleware(nil, []string{"/uptime"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uptime", nil))
	if !called {
		t.Fatal("expected public path to reach handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsUnauthenticated(t *testing.T) {
	handler := Middleware([]Authenticator{NewAPIKeyAuthenticator(nil)}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/machines", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
