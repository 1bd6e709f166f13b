package admission

import (
	"crypto/subtle"
	"strings"

	"github.com/zeroveil/gateway/services"
	"github.com/zeroveil/gateway/services/tenants"
)

// Authenticator resolves a request credential to a tenant identity. The
// variant is selected once at startup from configuration presence: tenant
// registry when a manifest loads, legacy static key when only a single key
// is configured, anonymous otherwise.
type Authenticator interface {
	// Authenticate returns the tenant ID and, in registry mode, the tenant
	// record to rate-limit against. A non-nil error is an audited denial.
	Authenticate(authorization, tenantHint string) (string, *tenants.Record, *services.DomainError)
}

// bearerToken extracts the token from an Authorization header value
func bearerToken(authorization string) (string, bool) {
	if !strings.HasPrefix(authorization, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer ")), true
}

func missingBearer() *services.DomainError {
	return services.NewUnauthorized("Missing bearer token", nil).
		WithDetail("header", "Authorization")
}

// TenantAuthenticator authenticates against a tenant registry
type TenantAuthenticator struct {
	registry *tenants.Registry
}

// NewTenantAuthenticator creates a registry-backed Authenticator
func NewTenantAuthenticator(registry *tenants.Registry) *TenantAuthenticator {
	return &TenantAuthenticator{registry: registry}
}

// Authenticate implements Authenticator
func (a *TenantAuthenticator) Authenticate(authorization, _ string) (string, *tenants.Record, *services.DomainError) {
	token, ok := bearerToken(authorization)
	if !ok {
		return "", nil, missingBearer()
	}
	record := a.registry.Authenticate(token)
	if record == nil {
		return "", nil, services.NewUnauthorized("Invalid API key", nil)
	}
	return record.TenantID, record, nil
}

// StaticKeyAuthenticator authenticates against a single static key.
// Deprecated legacy mode; tenant manifests are preferred.
type StaticKeyAuthenticator struct {
	key string
}

// NewStaticKeyAuthenticator creates a single-key Authenticator
func NewStaticKeyAuthenticator(key string) *StaticKeyAuthenticator {
	return &StaticKeyAuthenticator{key: key}
}

// Authenticate implements Authenticator. No tenant record exists in this
// mode, so rate limiting does not apply.
func (a *StaticKeyAuthenticator) Authenticate(authorization, tenantHint string) (string, *tenants.Record, *services.DomainError) {
	token, ok := bearerToken(authorization)
	if !ok {
		return "", nil, missingBearer()
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.key)) != 1 {
		return "", nil, services.NewUnauthorized("Invalid API key", nil)
	}
	return defaultTenant(tenantHint), nil, nil
}

// AnonymousAuthenticator requires no credential at all
type AnonymousAuthenticator struct{}

// NewAnonymousAuthenticator creates an Authenticator that admits everyone
func NewAnonymousAuthenticator() *AnonymousAuthenticator {
	return &AnonymousAuthenticator{}
}

// Authenticate implements Authenticator
func (a *AnonymousAuthenticator) Authenticate(_, tenantHint string) (string, *tenants.Record, *services.DomainError) {
	return defaultTenant(tenantHint), nil, nil
}

func defaultTenant(hint string) string {
	if hint != "" {
		return hint
	}
	return "default"
}
