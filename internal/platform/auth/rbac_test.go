package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHasRole(t *testing.T) {
	tests := []struct {
		name     string
		roles    []string
		required []string
		want     bool
	}{
		{"match", []string{"billing"}, []string{"admin", "billing"}, true},
		{"admin bypass", []string{"admin"}, []string{"billing"}, true},
		{"no match", []string{"nurse"}, []string{"billing"}, false},
		{"no roles", nil, []string{"billing"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasRole(tt.roles, tt.required...); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"allowed", []string{"billing"}, http.StatusOK},
		{"denied", []string{"nurse"}, http.StatusForbidden},
		{"admin", []string{"admin"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithIdentity(context.Background(), "u1", tt.roles...))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole("billing")(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != tt.want {
				t.Errorf("expected %d, got %v", tt.want, err)
			}
		})
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	if UserIDFromContext(context.Background()) != "" {
		t.Error("expected empty user id")
	}
	if RolesFromContext(context.Background()) != nil {
		t.Error("expected nil roles")
	}
}
