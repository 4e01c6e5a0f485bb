package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parcoursign/parcoursign/internal/app/system/auth"
)

func TestCurrentUser_EmptyContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if _, ok := auth.CurrentUser(req); ok {
		t.Error("CurrentUser should report not-found on a bare request")
	}
}

func TestWithTestUser(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	u := &auth.SessionUser{ID: "1", Name: "Jeanne Martin", Email: "jeanne@lycee.fr", Role: "teacher"}
	req = auth.WithTestUser(req, u)

	got, ok := auth.CurrentUser(req)
	if !ok {
		t.Fatal("CurrentUser should find the injected user")
	}
	if got.Email != "jeanne@lycee.fr" || got.Role != "teacher" {
		t.Errorf("unexpected user: %+v", got)
	}
}

func TestSuperAdmin(t *testing.T) {
	tests := []struct {
		role string
		want bool
	}{
		{"superadmin", true},
		{"SuperAdmin", true},
		{"teacher", false},
		{"", false},
	}
	for _, tt := range tests {
		u := &auth.SessionUser{Role: tt.role}
		if got := u.SuperAdmin(); got != tt.want {
			t.Errorf("SuperAdmin(%q) = %v, want %v", tt.role, got, tt.want)
		}
	}
	var nilUser *auth.SessionUser
	if nilUser.SuperAdmin() {
		t.Error("nil user must not be superadmin")
	}
}

func TestRequireSignedIn(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := auth.RequireSignedIn(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous request: got %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := auth.WithTestUser(httptest.NewRequest("GET", "/", nil), &auth.SessionUser{ID: "1"})
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated request: got %d, want 200", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := auth.RequireRole("teacher")(next)

	rec := httptest.NewRecorder()
	req := auth.WithTestUser(httptest.NewRequest("GET", "/", nil), &auth.SessionUser{Role: "student"})
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong role: got %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = auth.WithTestUser(httptest.NewRequest("GET", "/", nil), &auth.SessionUser{Role: "Teacher"})
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("matching role (case-insensitive): got %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = auth.WithTestUser(httptest.NewRequest("GET", "/", nil), &auth.SessionUser{Role: "superadmin"})
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("superadmin bypass: got %d, want 200", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := auth.ClientIP(req); got != "10.0.0.1" {
		t.Errorf("ClientIP = %q, want the port stripped", got)
	}

	req.Header.Set("X-Real-IP", "10.0.0.2")
	if got := auth.ClientIP(req); got != "10.0.0.2" {
		t.Errorf("ClientIP with X-Real-IP = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "10.0.0.3")
	if got := auth.ClientIP(req); got != "10.0.0.3" {
		t.Errorf("ClientIP with X-Forwarded-For = %q", got)
	}

	// Behind chained proxies the header is a hop list; audit entries
	// record only the first entry, the client.
	req.Header.Set("X-Forwarded-For", "10.0.0.3, 172.16.0.1, 192.168.0.1")
	if got := auth.ClientIP(req); got != "10.0.0.3" {
		t.Errorf("ClientIP with proxy chain = %q, want first hop", got)
	}
}
