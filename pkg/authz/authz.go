// Package authz implements the authorization engine: RBAC role-permission
// evaluation combined with ABAC policy evaluation under a deny-overrides
// rule, gating every operation on the other engines.
package authz

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	ierrors "github.com/ironseal/ironseal/internal/errors"
)

// Decision is the outcome of an authorization evaluation. NotApplicable is
// treated as Deny at the call site.
type Decision string

const (
	Allow        Decision = "allow"
	Deny         Decision = "deny"
	NotApplicable Decision = "not_applicable"
)

// Effect is the outcome an individual AccessPolicy produces when it applies.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Permission is a (resource-pattern, action-pattern) pair a Role grants.
// Resource patterns support exact match and a wildcard suffix ("foo/*").
type Permission struct {
	Resource string
	Action   string
}

func (p Permission) matches(resource, action string) bool {
	return patternMatches(p.Resource, resource) && patternMatches(p.Action, action)
}

func patternMatches(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		return value == strings.TrimSuffix(pattern, "/*") || strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}

// Role is a named bundle of Permissions a subject may hold, with a priority
// used to order hierarchical inheritance when roles are layered.
type Role struct {
	Name        string
	Description string
	System      bool
	Priority    int
	Permissions []Permission
}

// AccessPolicy is one ABAC rule.
// SubjectSelector and ResourceSelector match the request's subject/resource
// attributes; Condition further constrains on arbitrary request context.
// A nil selector/condition always matches.
type AccessPolicy struct {
	Name             string
	Effect           Effect
	SubjectSelector  Expr
	ResourceSelector Expr
	Actions          []string
	Condition        Expr
	Priority         int
	Enabled          bool
}

func (p *AccessPolicy) appliesToAction(action string) bool {
	if len(p.Actions) == 0 {
		return true
	}
	for _, a := range p.Actions {
		if patternMatches(a, action) {
			return true
		}
	}
	return false
}

// Request describes one authorization check: a subject identity, the action
// being attempted, the resource it targets, and an attribute bag ABAC
// conditions evaluate against (source IP, time of day, request tags, ...).
type Request struct {
	Subject    string
	Action     string
	Resource   string
	Attributes map[string]any
}

// RBACStore resolves the roles held by a subject. Engine-owned, following
// the same pattern as pkg/sealctl.ConfigStore/pkg/kv.Repository: a concrete
// implementation lives in internal/storage.
type RBACStore interface {
	RolesForSubject(ctx context.Context, subject string) ([]Role, error)
}

// ABACStore lists the enabled policy set. Policies are expected pre-sorted
// by priority descending by the store; Engine re-sorts if they are not.
type ABACStore interface {
	ListPolicies(ctx context.Context) ([]*AccessPolicy, error)
}

// Engine implements RBAC+ABAC evaluation with deny-overrides combination
// and an optional short-TTL decision cache.
type Engine struct {
	rbac  RBACStore
	abac  ABACStore
	cache *decisionCache
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithCache enables decision caching with the given TTL. Omit for no
// caching (every call evaluates in-process).
func WithCache(ttl time.Duration) Option {
	return func(e *Engine) { e.cache = newDecisionCache(ttl) }
}

// New wires an Engine against its RBAC and ABAC stores.
func New(rbac RBACStore, abac ABACStore, opts ...Option) *Engine {
	e := &Engine{rbac: rbac, abac: abac}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InvalidateCache clears the entire decision cache. Callers must invoke
// this after any write that affects role assignments, permissions, or
// policies.
func (e *Engine) InvalidateCache() {
	if e.cache != nil {
		e.cache.clear()
	}
}

// Evaluate produces a Decision for req. NotApplicable is returned both when
// nothing applies and when an attribute lookup fails, so callers fail
// closed — the distinction is not observable to the caller, only to this
// package's own error return.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Decision, error) {
	fingerprint := req.Subject + "|" + req.Action + "|" + req.Resource
	if e.cache != nil {
		if d, ok := e.cache.get(fingerprint); ok {
			return d, nil
		}
	}

	decision, err := e.evaluate(ctx, req)
	if err != nil {
		return NotApplicable, err
	}

	if e.cache != nil {
		e.cache.put(fingerprint, decision)
	}
	return decision, nil
}

func (e *Engine) evaluate(ctx context.Context, req Request) (Decision, error) {
	rbacAllow, err := e.evaluateRBAC(ctx, req)
	if err != nil {
		return NotApplicable, ierrors.Wrap(ierrors.Internal, "Evaluate", err)
	}

	abacDecision, err := e.evaluateABAC(ctx, req)
	if err != nil {
		return NotApplicable, ierrors.Wrap(ierrors.Internal, "Evaluate", err)
	}

	// Deny-overrides: any applicable Deny wins outright.
	if abacDecision == Deny {
		return Deny, nil
	}
	if rbacAllow || abacDecision == Allow {
		return Allow, nil
	}
	return NotApplicable, nil
}

func (e *Engine) evaluateRBAC(ctx context.Context, req Request) (bool, error) {
	roles, err := e.rbac.RolesForSubject(ctx, req.Subject)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		for _, perm := range role.Permissions {
			if perm.matches(req.Resource, req.Action) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (e *Engine) evaluateABAC(ctx context.Context, req Request) (Decision, error) {
	policies, err := e.abac.ListPolicies(ctx)
	if err != nil {
		return NotApplicable, err
	}
	policies = sortedByPriorityDesc(policies)

	attrs := requestAttributes(req)

	result := NotApplicable
	for _, p := range policies {
		if !p.Enabled || !p.appliesToAction(req.Action) {
			continue
		}
		if p.SubjectSelector != nil && !p.SubjectSelector.Eval(attrs) {
			continue
		}
		if p.ResourceSelector != nil && !p.ResourceSelector.Eval(attrs) {
			continue
		}
		if p.Condition != nil && !p.Condition.Eval(attrs) {
			continue
		}

		if p.Effect == EffectDeny {
			return Deny, nil
		}
		result = Allow
	}
	return result, nil
}

// requestAttributes merges the request's fixed fields with its free-form
// Attributes bag so selectors/conditions can reference "subject",
// "resource", and "action" alongside caller-supplied context (e.g. "ip").
func requestAttributes(req Request) map[string]any {
	attrs := make(map[string]any, len(req.Attributes)+3)
	for k, v := range req.Attributes {
		attrs[k] = v
	}
	attrs["subject"] = req.Subject
	attrs["resource"] = req.Resource
	attrs["action"] = req.Action
	return attrs
}

func sortedByPriorityDesc(policies []*AccessPolicy) []*AccessPolicy {
	sorted := make([]*AccessPolicy, len(policies))
	copy(sorted, policies)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Priority < sorted[j].Priority; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted
}

// decisionCache is a short-TTL cache keyed by (subject, action, resource)
// fingerprint, fully invalidated on any write affecting
// roles/permissions/policies.
type decisionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	decision Decision
	expires  time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	return &decisionCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *decisionCache) get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return "", false
	}
	return e.decision, true
}

func (c *decisionCache) put(key string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{decision: d, expires: time.Now().Add(c.ttl)}
}

func (c *decisionCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// CIDRContains reports whether ip (a dotted-quad or IPv6 string attribute)
// falls within cidr. Exposed for callers building custom Expr trees outside
// the And/Or/Equals/In/Prefix/CIDR constructors in expr.go.
func CIDRContains(ip, cidr string) bool {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return network.Contains(parsed)
}
