package tenantctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Origin describes the unit of work a Scope was bound for.
type Origin string

const (
	OriginUnknown Origin = ""
	OriginRequest Origin = "request"
	OriginJob     Origin = "job"
)

// Scope identifies the single tenant a unit of work may touch.
// The zero value is unbound with an unknown origin.
type Scope struct {
	tenantID snowflake.ID
	origin   Origin
}

// ForRequest binds a scope resolved by the HTTP tenant middleware.
func ForRequest(tenantID snowflake.ID) Scope {
	return Scope{tenantID: tenantID, origin: OriginRequest}
}

// ForJob binds a scope for background work that carries the tenant explicitly.
func ForJob(tenantID snowflake.ID) Scope {
	return Scope{tenantID: tenantID, origin: OriginJob}
}

// Unbound returns a scope with no tenant for the given origin.
func Unbound(origin Origin) Scope {
	return Scope{origin: origin}
}

func (s Scope) TenantID() (snowflake.ID, bool) {
	if s.tenantID == 0 {
		return 0, false
	}
	return s.tenantID, true
}

func (s Scope) Bound() bool {
	return s.tenantID != 0
}

func (s Scope) Origin() Origin {
	return s.origin
}

func (s Scope) String() string {
	if s.tenantID == 0 {
		return "unbound"
	}
	return s.tenantID.String()
}

type scopeKey struct{}

// WithScope binds the scope to ctx.
func WithScope(ctx context.Context, scope Scope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{}, scope)
}

// FromContext returns the bound scope, or the zero Scope when none was bound.
func FromContext(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	if scope, ok := ctx.Value(scopeKey{}).(Scope); ok {
		return scope
	}
	return Scope{}
}

// TenantID is a shorthand for FromContext(ctx).TenantID().
func TenantID(ctx context.Context) (snowflake.ID, bool) {
	return FromContext(ctx).TenantID()
}
