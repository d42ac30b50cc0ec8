package server

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/smallbiznis/rentledger/internal/authorization"
	obscontext "github.com/smallbiznis/rentledger/internal/observability/context"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"go.uber.org/zap"
)

const (
	headerAuthorization = "Authorization"
	headerTenantID      = "X-Tenant-ID"

	contextKeyActor = "actor"
	contextKeyScope = "tenant_scope"
)

// Claims is the bearer token payload. TenantID is a string because
// snowflake ids do not fit a JSON number.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// ParseToken validates an HS256 token signed with secret.
func ParseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// SignToken issues an HS256 token for claims.
func SignToken(secret string, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// AuthRequired resolves the caller from the bearer token.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(s.cfg.AuthJWTSecret)
		if secret == "" {
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		raw := bearerToken(c.GetHeader(headerAuthorization))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims, err := ParseToken(secret, raw)
		if err != nil {
			s.log.Debug("bearer token rejected", zap.Error(err))
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor, err := actorFromClaims(claims)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextKeyActor, actor)
		ctx := obscontext.WithActor(c.Request.Context(), "user", actor.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TenantContext binds the request to a tenant scope. Only a super admin may
// point a request at another tenant through X-Tenant-ID.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromGin(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		tenantID := actor.TenantID
		if header := strings.TrimSpace(c.GetHeader(headerTenantID)); header != "" {
			requested, err := snowflake.ParseString(header)
			if err != nil || requested <= 0 {
				AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "invalid tenant id"))
				return
			}

			switch {
			case actor.IsSuperAdmin():
				if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectTenant, authorization.ActionTenantSwitch); err != nil {
					AbortWithError(c, err)
					return
				}
				tenantID = requested
			case requested != actor.TenantID:
				s.log.Warn("tenant header ignored",
					zap.String("actor_id", actor.Subject),
					zap.String("role", actor.Role),
					zap.String("claim_tenant_id", actor.TenantID.String()),
					zap.String("header_tenant_id", requested.String()),
				)
			}
		}

		if tenantID == 0 {
			AbortWithError(c, ErrForbidden)
			return
		}

		scope := tenantctx.ForRequest(tenantID)
		c.Set(contextKeyScope, scope)
		c.Request = c.Request.WithContext(tenantctx.WithScope(c.Request.Context(), scope))
		c.Next()
	}
}

func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromGin(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func actorFromClaims(claims *Claims) (authorization.Actor, error) {
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return authorization.Actor{}, errors.New("missing_subject")
	}
	role := authorization.NormalizeRole(claims.Role)
	if role == "" {
		return authorization.Actor{}, authorization.ErrInvalidRole
	}

	var tenantID snowflake.ID
	if raw := strings.TrimSpace(claims.TenantID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return authorization.Actor{}, err
		}
		tenantID = id
	}
	if tenantID == 0 && role != authorization.RoleSuperAdmin {
		return authorization.Actor{}, errors.New("missing_tenant")
	}

	return authorization.Actor{Subject: subject, Role: role, TenantID: tenantID}, nil
}

func actorFromGin(c *gin.Context) (authorization.Actor, bool) {
	v, ok := c.Get(contextKeyActor)
	if !ok {
		return authorization.Actor{}, false
	}
	actor, ok := v.(authorization.Actor)
	return actor, ok
}

func scopeFromGin(c *gin.Context) tenantctx.Scope {
	if v, ok := c.Get(contextKeyScope); ok {
		if scope, ok := v.(tenantctx.Scope); ok {
			return scope
		}
	}
	return tenantctx.FromContext(c.Request.Context())
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
