package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRBAC struct {
	roles map[string][]Role
}

func (m memRBAC) RolesForSubject(_ context.Context, subject string) ([]Role, error) {
	return m.roles[subject], nil
}

type memABAC struct {
	policies []*AccessPolicy
}

func (m memABAC) ListPolicies(_ context.Context) ([]*AccessPolicy, error) {
	return m.policies, nil
}

func TestRBACAllowsMatchingPermission(t *testing.T) {
	rbac := memRBAC{roles: map[string][]Role{
		"alice": {{Name: "operator", Permissions: []Permission{{Resource: "secret/app/*", Action: "read"}}}},
	}}
	abac := memABAC{}
	e := New(rbac, abac)

	d, err := e.Evaluate(context.Background(), Request{Subject: "alice", Action: "read", Resource: "secret/app/db"})
	require.NoError(t, err)
	assert.Equal(t, Allow, d)

	d, err = e.Evaluate(context.Background(), Request{Subject: "alice", Action: "write", Resource: "secret/app/db"})
	require.NoError(t, err)
	assert.Equal(t, NotApplicable, d)
}

func TestDenyOverridesAllow(t *testing.T) {
	rbac := memRBAC{roles: map[string][]Role{
		"bob": {{Name: "admin", Permissions: []Permission{{Resource: "*", Action: "*"}}}},
	}}
	abac := memABAC{policies: []*AccessPolicy{
		{
			Name:            "block-prod-writes",
			Effect:          EffectDeny,
			Enabled:         true,
			Actions:         []string{"write"},
			ResourceSelector: Prefix{Attribute: "resource", Value: "secret/prod/"},
			Priority:        10,
		},
	}}
	e := New(rbac, abac)

	d, err := e.Evaluate(context.Background(), Request{Subject: "bob", Action: "write", Resource: "secret/prod/db"})
	require.NoError(t, err)
	assert.Equal(t, Deny, d)

	d, err = e.Evaluate(context.Background(), Request{Subject: "bob", Action: "write", Resource: "secret/staging/db"})
	require.NoError(t, err)
	assert.Equal(t, Allow, d)
}

func TestABACPriorityAndCIDRCondition(t *testing.T) {
	rbac := memRBAC{}
	abac := memABAC{policies: []*AccessPolicy{
		{
			Name:      "low-priority-allow",
			Effect:    EffectAllow,
			Enabled:   true,
			Actions:   []string{"read"},
			Priority:  1,
			Condition: CIDR{Attribute: "ip", Block: "10.0.0.0/8"},
		},
		{
			Name:      "high-priority-deny-external",
			Effect:    EffectDeny,
			Enabled:   true,
			Actions:   []string{"read"},
			Priority:  100,
			Condition: Not{Child: CIDR{Attribute: "ip", Block: "10.0.0.0/8"}},
		},
	}}
	e := New(rbac, abac)

	d, err := e.Evaluate(context.Background(), Request{
		Subject: "carol", Action: "read", Resource: "secret/x",
		Attributes: map[string]any{"ip": "10.1.2.3"},
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, d)

	d, err = e.Evaluate(context.Background(), Request{
		Subject: "carol", Action: "read", Resource: "secret/x",
		Attributes: map[string]any{"ip": "203.0.113.5"},
	})
	require.NoError(t, err)
	assert.Equal(t, Deny, d)
}

func TestDisabledPolicyIsIgnored(t *testing.T) {
	rbac := memRBAC{}
	abac := memABAC{policies: []*AccessPolicy{
		{Name: "disabled", Effect: EffectAllow, Enabled: false, Actions: []string{"read"}},
	}}
	e := New(rbac, abac)

	d, err := e.Evaluate(context.Background(), Request{Subject: "dan", Action: "read", Resource: "secret/x"})
	require.NoError(t, err)
	assert.Equal(t, NotApplicable, d)
}

func TestDecisionCacheAndInvalidate(t *testing.T) {
	rbac := memRBAC{roles: map[string][]Role{
		"erin": {{Name: "viewer", Permissions: []Permission{{Resource: "secret/*", Action: "read"}}}},
	}}
	abac := memABAC{}
	e := New(rbac, abac, WithCache(time.Minute))

	d, err := e.Evaluate(context.Background(), Request{Subject: "erin", Action: "read", Resource: "secret/a"})
	require.NoError(t, err)
	assert.Equal(t, Allow, d)

	// Mutate the underlying store without telling the cache; a cache hit
	// should still return the stale decision until invalidated.
	rbac.roles["erin"] = nil
	d, err = e.Evaluate(context.Background(), Request{Subject: "erin", Action: "read", Resource: "secret/a"})
	require.NoError(t, err)
	assert.Equal(t, Allow, d)

	e.InvalidateCache()
	d, err = e.Evaluate(context.Background(), Request{Subject: "erin", Action: "read", Resource: "secret/a"})
	require.NoError(t, err)
	assert.Equal(t, NotApplicable, d)
}

func TestWildcardResourcePattern(t *testing.T) {
	p := Permission{Resource: "secret/app/*", Action: "read"}
	assert.True(t, p.matches("secret/app/db", "read"))
	assert.True(t, p.matches("secret/app", "read"))
	assert.False(t, p.matches("secret/other/db", "read"))
}
