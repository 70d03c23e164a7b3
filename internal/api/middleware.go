package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"schemakit/internal/schema"
)

// AuthMiddleware returns a Fiber middleware that validates JWT tokens
// and sets the UserContext on the request.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return unauthorized("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return unauthorized("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return unauthorized("Invalid or expired token")
		}

		c.Locals("user", &schema.UserContext{
			ID:    claims.Subject,
			Roles: claims.Roles,
			Attrs: claims.Attrs,
		})

		return c.Next()
	}
}

// TenantMiddleware resolves the tenant from the X-Tenant header. A missing
// header or the literal "default" selects the default tenant, which the
// store layer represents as the empty string.
func TenantMiddleware(defaultTenant string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenant := strings.TrimSpace(c.Get("X-Tenant"))
		if tenant == "" || tenant == "default" || tenant == defaultTenant {
			tenant = ""
		}
		c.Locals("tenant", tenant)
		return c.Next()
	}
}

// RequireAdmin checks the authenticated user has the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := getUser(c)
		if user == nil {
			return unauthorized("Missing auth token")
		}
		if !user.HasRole("admin") {
			return forbidden("Admin access required")
		}
		return c.Next()
	}
}

func getUser(c *fiber.Ctx) *schema.UserContext {
	user, _ := c.Locals("user").(*schema.UserContext)
	return user
}

func getTenant(c *fiber.Ctx) string {
	tenant, _ := c.Locals("tenant").(string)
	return tenant
}
