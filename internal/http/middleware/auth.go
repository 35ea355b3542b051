// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller identity. Tokens are HS256 JWTs carrying a
// "userId" claim, read from the Authorization bearer header or from the
// configured session cookie. The resolved identity is stored under the
// "userID" context key, which the logging, idempotency and rate-limit
// middleware already read.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxKeyUserID = "userID"
	// HeaderDemoUser carries a raw user id when AuthOptions.AllowDemoHeader is set.
	HeaderDemoUser = "X-User-ID"
)

// ErrInvalidToken is returned by ParseToken for any token that fails
// signature, algorithm or claim validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload issued by the auth service.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// AuthOptions configures Authenticate.
type AuthOptions struct {
	Secret []byte
	// Cookie is the session cookie name checked after the Authorization header.
	Cookie string
	// AllowDemoHeader accepts X-User-ID without a token. Development only.
	AllowDemoHeader bool
}

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(secret []byte, raw string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate resolves the caller identity and aborts with 401 when none
// can be established.
func Authenticate(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearerToken(c, opts.Cookie); raw != "" && len(opts.Secret) > 0 {
			claims, err := ParseToken(opts.Secret, raw)
			if err != nil {
				unauthorized(c, "invalid token")
				return
			}
			c.Set(ctxKeyUserID, claims.UserID)
			c.Next()
			return
		}

		if opts.AllowDemoHeader {
			if id := strings.TrimSpace(c.GetHeader(HeaderDemoUser)); id != "" {
				c.Set(ctxKeyUserID, id)
				c.Next()
				return
			}
		}

		unauthorized(c, "authentication required")
	}
}

// UserIDFrom returns the identity resolved by Authenticate, or "".
func UserIDFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func bearerToken(c *gin.Context, cookie string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
	}
	if cookie != "" {
		if v, err := c.Cookie(cookie); err == nil {
			return v
		}
	}
	return ""
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
