package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	RoleQueryRunner = "query_runner"
	RoleOpsAdmin    = "ops_admin"
)

var ErrForbidden = errors.New("forbidden")

type Identity struct {
	TenantID string
	Roles    []string
}

// HasRole reports whether the identity holds role. ops_admin holds every role.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role) || slices.Contains(i.Roles, RoleOpsAdmin)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses comma separated key:tenant:role|role
// entries.
func NewStaticAPIKeyValidator(entries string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	entries = strings.TrimSpace(entries)
	if entries == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(entries, ",") {
		key, identity, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		if _, exists := validator.keys[key]; exists {
			return nil, fmt.Errorf("invalid static key entry %q: duplicate key", entry)
		}
		validator.keys[key] = identity
	}
	return validator, nil
}

func parseEntry(entry string) (string, Identity, error) {
	parts := strings.Split(strings.TrimSpace(entry), ":")
	if len(parts) != 3 {
		return "", Identity{}, fmt.Errorf("invalid static key entry %q: expected key:tenant:role|role", entry)
	}
	key := strings.TrimSpace(parts[0])
	tenant := strings.TrimSpace(parts[1])
	if key == "" || tenant == "" {
		return "", Identity{}, fmt.Errorf("invalid static key entry %q: empty key/tenant", entry)
	}

	var roles []string
	for _, role := range strings.Split(parts[2], "|") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
	}
	slices.Sort(roles)
	return key, Identity{TenantID: tenant, Roles: slices.Compact(roles)}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

// Authorize checks the identity in ctx for role. Requests without an
// identity pass: they only reach handlers when authentication is disabled.
func Authorize(ctx context.Context, role string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("%w: missing required role %q", ErrForbidden, role)
}
