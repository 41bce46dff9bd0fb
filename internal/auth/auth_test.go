package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"crm-backend/internal/metadata"
)

const testSecret = "test-secret"

func TestAccessTokenRoundTrip(t *testing.T) {
	user := &metadata.UserContext{
		ID:       "u-1",
		TenantID: "t-1",
		Roles:    []string{"admin"},
	}
	token, err := GenerateAccessToken(testSecret, user)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	parsed, err := ParseAccessToken(testSecret, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ID != "u-1" || parsed.TenantID != "t-1" || !parsed.IsAdmin() {
		t.Fatalf("claims round trip: %+v", parsed)
	}

	if _, err := ParseAccessToken("wrong-secret", token); err == nil {
		t.Fatal("wrong secret should fail")
	}
	if _, err := ParseAccessToken(testSecret, "not-a-token"); err == nil {
		t.Fatal("garbage token should fail")
	}
}

func TestMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/me", Middleware(testSecret), func(c *fiber.Ctx) error {
		u := GetUser(c)
		if u == nil {
			t.Fatal("user missing from locals")
		}
		return c.JSON(u)
	})

	// No token.
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", resp.StatusCode)
	}

	// Valid token.
	token, err := GenerateAccessToken(testSecret, &metadata.UserContext{ID: "u-1", TenantID: "t-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token status = %d", resp.StatusCode)
	}
}

func TestRequireAdmin(t *testing.T) {
	app := fiber.New()
	app.Post("/admin-only", Middleware(testSecret), RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})

	viewerToken, err := GenerateAccessToken(testSecret, &metadata.UserContext{
		ID: "u-1", TenantID: "t-1", Roles: []string{"viewer"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+viewerToken)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer status = %d", resp.StatusCode)
	}

	adminToken, err := GenerateAccessToken(testSecret, &metadata.UserContext{
		ID: "u-2", TenantID: "t-1", Roles: []string{"admin"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("admin status = %d", resp.StatusCode)
	}
}
