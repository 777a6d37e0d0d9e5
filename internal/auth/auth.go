// Package auth resolves the caller's identity for protected routes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/awslabs/aws-lambda-go-api-proxy/core"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// ErrUnauthenticated is returned for missing, malformed or rejected credentials.
var ErrUnauthenticated = errors.New("authentication failed")

const identityKey = "auth.identity"

// Identity is the authenticated caller.
type Identity struct {
	Name  string
	Email string
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Claims carried by bearer tokens.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if len(v.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: bearer tokens are not configured", ErrUnauthenticated)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Name == "" || claims.Email == "" {
		return Identity{}, fmt.Errorf("%w: token is missing name or email", ErrUnauthenticated)
	}
	return Identity{Name: claims.Name, Email: claims.Email}, nil
}

// Middleware requires an identity on every request. An identity supplied by an API Gateway
// authorizer takes precedence over the Authorization header.
func Middleware(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if id, ok := authorizerIdentity(ctx); ok {
			c.Set(identityKey, id)
			c.Next()
			return
		}

		token, err := bearerToken(c.GetHeader("Authorization"))
		if err == nil {
			var id Identity
			if id, err = v.Verify(ctx, token); err == nil {
				c.Set(identityKey, id)
				c.Next()
				return
			}
		}

		log.Ctx(ctx).Warn().Err(err).Msg("request rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"statusCode": http.StatusUnauthorized,
			"error":      "unauthorized",
			"message":    err.Error(),
		})
	}
}

// IdentityFrom returns the identity stored by Middleware.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: missing Authorization header", ErrUnauthenticated)
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: invalid Authorization header format", ErrUnauthenticated)
	}
	return strings.TrimSpace(token), nil
}

func authorizerIdentity(ctx context.Context) (Identity, bool) {
	reqCtx, ok := core.GetAPIGatewayContextFromContext(ctx)
	if !ok {
		return Identity{}, false
	}
	email, _ := reqCtx.Authorizer["email"].(string)
	name, _ := reqCtx.Authorizer["name"].(string)
	if email == "" || name == "" {
		return Identity{}, false
	}
	return Identity{Name: name, Email: email}, true
}
