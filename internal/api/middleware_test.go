package api

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"schemakit/internal/schema"
)

const testSecret = "test-secret"

func TestAuthMiddleware_TokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("u1", []string{"member"}, map[string]any{"region": "west"}, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var user *schema.UserContext
	app := fiber.New()
	app.Use(AuthMiddleware(testSecret))
	app.Get("/t", func(c *fiber.Ctx) error {
		user = getUser(c)
		return c.SendStatus(200)
	})

	req, _ := http.NewRequest("GET", "/t", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if user == nil || user.ID != "u1" {
		t.Fatalf("user not populated: %+v", user)
	}
	if !user.HasRole("member") {
		t.Fatalf("roles not carried: %+v", user.Roles)
	}
	if user.Attrs["region"] != "west" {
		t.Fatalf("attrs not carried: %+v", user.Attrs)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(AuthMiddleware(testSecret))
	app.Get("/t", func(c *fiber.Ctx) error { return c.SendStatus(200) })

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/t", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != 401 {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
		})
	}

	// wrong signing secret
	token, _ := GenerateAccessToken("u1", nil, nil, "other-secret")
	req, _ := http.NewRequest("GET", "/t", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 401 {
		t.Fatalf("foreign token must be rejected, got %d", resp.StatusCode)
	}
}

func TestTenantMiddleware(t *testing.T) {
	var tenant string
	app := fiber.New()
	app.Use(TenantMiddleware("default"))
	app.Get("/t", func(c *fiber.Ctx) error {
		tenant = getTenant(c)
		return c.SendStatus(200)
	})

	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"default", ""},
		{"acme", "acme"},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest("GET", "/t", nil)
		if tt.header != "" {
			req.Header.Set("X-Tenant", tt.header)
		}
		if _, err := app.Test(req, -1); err != nil {
			t.Fatalf("request: %v", err)
		}
		if tenant != tt.want {
			t.Fatalf("header %q: got %q, want %q", tt.header, tenant, tt.want)
		}
	}
}

func TestRequireAdmin(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(AuthMiddleware(testSecret), RequireAdmin())
	app.Get("/t", func(c *fiber.Ctx) error { return c.SendStatus(200) })

	adminToken, _ := GenerateAccessToken("root", []string{"admin"}, nil, testSecret)
	req, _ := http.NewRequest("GET", "/t", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("admin must pass, got %d", resp.StatusCode)
	}

	memberToken, _ := GenerateAccessToken("u1", []string{"member"}, nil, testSecret)
	req, _ = http.NewRequest("GET", "/t", nil)
	req.Header.Set("Authorization", "Bearer "+memberToken)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 403 {
		t.Fatalf("non-admin must be forbidden, got %d", resp.StatusCode)
	}
}
