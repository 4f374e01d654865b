// middleware/auth.go
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bounty-settlement-system/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/lestrrat-go/jwx/jwk"
	"github.com/lestrrat-go/jwx/jwt"
	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
)

var ErrMissingSubject = errors.New("session token has no subject")

// TokenVerifier turns a session token into the identity it was issued for.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (userID string, err error)
}

// JWKSVerifier validates identity provider session JWTs against its published key set.
type JWKSVerifier struct {
	url    string
	client *http.Client
	keys   *cache.Cache
	leeway time.Duration
}

const jwksCacheKey = "jwks"

// NewJWKSVerifier fetches keys from jwksURL, authenticating with the backend secret key.
func NewJWKSVerifier(jwksURL, secretKey string, timeout time.Duration) *JWKSVerifier {
	client := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: secretKey,
		TokenType:   "Bearer",
	}))
	client.Timeout = timeout
	return &JWKSVerifier{
		url:    jwksURL,
		client: client,
		keys:   cache.New(time.Hour, 10*time.Minute),
		leeway: 5 * time.Second,
	}
}

func (v *JWKSVerifier) keySet(ctx context.Context, refresh bool) (jwk.Set, error) {
	if !refresh {
		if set, ok := v.keys.Get(jwksCacheKey); ok {
			return set.(jwk.Set), nil
		}
	}
	set, err := jwk.Fetch(ctx, v.url, jwk.WithHTTPClient(v.client))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jwks: %w", err)
	}
	v.keys.SetDefault(jwksCacheKey, set)
	return set, nil
}

func (v *JWKSVerifier) Verify(ctx context.Context, raw string) (string, error) {
	set, err := v.keySet(ctx, false)
	if err != nil {
		return "", err
	}
	token, err := v.parse(raw, set)
	if err != nil {
		// keys may have rotated since the set was cached
		if set, ferr := v.keySet(ctx, true); ferr == nil {
			token, err = v.parse(raw, set)
		}
	}
	if err != nil {
		return "", err
	}
	if token.Subject() == "" {
		return "", ErrMissingSubject
	}
	return token.Subject(), nil
}

func (v *JWKSVerifier) parse(raw string, set jwk.Set) (jwt.Token, error) {
	return jwt.Parse([]byte(raw),
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.leeway),
	)
}

// RequireAuth rejects requests without a valid bearer session and stores the
// identity under c.Locals("user_id").
func RequireAuth(verifier TokenVerifier) fiber.Handler {
	log := logger.NewSublogger("auth")

	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		raw, ok := strings.CutPrefix(header, "Bearer ")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing bearer token",
				"code":  "unauthorized",
			})
		}

		userID, err := verifier.Verify(c.UserContext(), raw)
		if err != nil {
			log.WithError(err).WithField("path", c.Path()).Warn("🚫 [AUTH] session rejected")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired session",
				"code":  "unauthorized",
			})
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}
