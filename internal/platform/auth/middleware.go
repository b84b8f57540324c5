package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/Fiesterolml/gestioncitas-app/internal/platform/middleware"
)

// Authenticator turns a bearer token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// Claims are the id-token claims read into a Principal.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey switches verification to HS256. Used by tests and local setups.
	SigningKey []byte
}

// JWTAuthenticator verifies id tokens from an external identity provider.
type JWTAuthenticator struct {
	cfg JWTConfig

	mu   sync.Mutex
	jwks *JWKSCache
}

func NewJWTAuthenticator(cfg JWTConfig) *JWTAuthenticator {
	a := &JWTAuthenticator{cfg: cfg}
	if cfg.JWKSURL != "" {
		a.jwks = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL)
	}
	return a
}

// keys resolves the JWKS endpoint through OIDC discovery on first use. A
// failed discovery is retried on the next request.
func (a *JWTAuthenticator) keys(ctx context.Context) (*JWKSCache, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.jwks != nil {
		return a.jwks, nil
	}
	provider, err := NewOIDCProvider(context.WithoutCancel(ctx), a.cfg.Issuer)
	if err != nil {
		return nil, err
	}
	a.jwks = NewJWKSCache(provider.JWKSURI, defaultJWKSCacheTTL)
	return a.jwks, nil
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, authError("missing token")
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}

	var keyFunc jwt.Keyfunc
	if len(a.cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
		keyFunc = func(*jwt.Token) (any, error) { return a.cfg.SigningKey, nil }
	} else {
		cache, err := a.keys(ctx)
		if err != nil {
			return Principal{}, authError("identity provider unavailable: %v", err)
		}
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
		keyFunc = cache.KeyFunc(ctx)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...)
	if err != nil || !parsed.Valid {
		return Principal{}, authError("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, authError("token has no subject")
	}

	return Principal{ID: claims.Subject, Email: claims.Email, DisplayName: claims.Name}, nil
}

// DevAuthenticator accepts every request as a single fixed principal.
type DevAuthenticator struct {
	Principal Principal
}

func NewDevAuthenticator() *DevAuthenticator {
	return &DevAuthenticator{Principal: Principal{ID: "dev-user", Email: "dev@localhost", DisplayName: "Developer"}}
}

func (d *DevAuthenticator) Authenticate(context.Context, string) (Principal, error) {
	return d.Principal, nil
}

// bearerToken reads the Authorization header. Websocket upgrades cannot set
// headers from a browser, so access_token in the query is accepted too.
func bearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get("Authorization")
	if header == "" {
		return c.QueryParam("access_token"), nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", authError("invalid authorization format")
	}
	return strings.TrimSpace(token), nil
}

// Middleware authenticates every non-public request and stores the principal
// in the request context.
func Middleware(authn Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if Skipper(c) {
				return next(c)
			}

			token, err := bearerToken(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			req := c.Request()
			p, err := authn.Authenticate(req.Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "sign-in required")
			}

			c.Set(middleware.PrincipalKey, p.ID)
			c.SetRequest(req.WithContext(WithPrincipal(req.Context(), p)))
			return next(c)
		}
	}
}
