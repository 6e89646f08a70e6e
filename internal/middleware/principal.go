package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/classbank/classbank/internal/tenancy"
)

// MembershipSource supplies the full membership list of a principal.
type MembershipSource interface {
	MembershipsFor(ctx context.Context, studentID string) ([]tenancy.Membership, error)
}

// TokenClaims is the access token issued by the identity provider.
type TokenClaims struct {
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 access token. The identity provider normally
// does this; the API uses it for development tokens and tests.
func IssueToken(secret []byte, subject string, role tenancy.Role, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		Role:      string(role),
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Principal verifies the bearer token and loads the caller's memberships.
func Principal(secret []byte, memberships MembershipSource, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := parseToken(strings.TrimSpace(authz[len("Bearer "):]), secret)
		if err != nil {
			logger.Warn("token rejected", slog.String("path", c.Path()), slog.Any("error", err))
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		role := tenancy.Role(claims.Role)
		if role != tenancy.RoleAdmin {
			role = tenancy.RoleStudent
		}
		p := tenancy.Principal{ID: claims.Subject, Role: role, SessionID: claims.SessionID}
		if memberships != nil {
			list, err := memberships.MembershipsFor(c.UserContext(), p.ID)
			if err != nil {
				logger.Error("load memberships", slog.String("principal_id", p.ID), slog.Any("error", err))
				return fiber.NewError(http.StatusServiceUnavailable, "membership directory unavailable")
			}
			p.Memberships = list
		}

		c.SetUserContext(tenancy.WithPrincipal(c.UserContext(), p))
		c.Locals(principalIDLocal, p.ID)
		return c.Next()
	}
}

func parseToken(raw string, secret []byte) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("missing subject")
	}
	return claims, nil
}
