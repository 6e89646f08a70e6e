package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/classbank/classbank/internal/tenancy"
)

const (
	tenantIDHeader = "X-Tenant-ID"
	joinCodeHeader = "X-Join-Code"
)

// Tenant resolves the class period for the request and stores it in the
// user context. X-Tenant-ID or X-Join-Code select a period explicitly;
// without either the session's choice or the default applies.
func Tenant(resolver *tenancy.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		p, ok := tenancy.PrincipalFrom(ctx)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, "missing principal")
		}

		var (
			tenant tenancy.TenantID
			err    error
		)
		if code := strings.TrimSpace(c.Get(joinCodeHeader)); code != "" {
			tenant, err = resolver.ResolveJoinCode(ctx, p, code)
		} else {
			tenant, err = resolver.Resolve(ctx, p, tenancy.TenantID(strings.TrimSpace(c.Get(tenantIDHeader))))
		}
		if err != nil {
			return err
		}

		c.SetUserContext(tenancy.WithTenant(ctx, tenant))
		c.Locals(tenantIDLocal, tenant.String())
		c.Set(tenantIDHeader, tenant.String())
		return c.Next()
	}
}
