package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/parcoursign/parcoursign/internal/app/system/auth"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// User builds a session user for a given role and email.
func User(role, name, email string) *auth.SessionUser {
	return &auth.SessionUser{
		ID:    primitive.NewObjectID().Hex(),
		Name:  name,
		Email: email,
		Role:  role,
	}
}

// TeacherUser is the session identity matching the fixture teacher party.
func TeacherUser() *auth.SessionUser {
	return User("teacher", "Paul Referent", TeacherEmail)
}

// HeadUser is the session identity matching the fixture head party.
func HeadUser() *auth.SessionUser {
	return User("head", "Mme Proviseure", HeadEmail)
}

// SuperAdminUser is a session identity with the superadmin role.
func SuperAdminUser() *auth.SessionUser {
	return User(auth.RoleSuperAdmin, "Admin", "admin@parcoursign.test")
}

// NewRequest creates a test request, JSON-encoding the body when non-nil.
func NewRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// NewAuthenticatedRequest creates a test request with a session user in
// context, bypassing the session middleware.
func NewAuthenticatedRequest(t *testing.T, method, target string, body any, user *auth.SessionUser) *http.Request {
	t.Helper()
	return auth.WithTestUser(NewRequest(t, method, target, body), user)
}

// DecodeJSON decodes a recorded response body into out.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}
