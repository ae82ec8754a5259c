package authz

import (
	"fmt"
	"strings"
)

// Expr is one node of the small selector/condition expression language:
// equality, set-membership, prefix-match, CIDR-containment, and
// conjunction/disjunction of these. AccessPolicy selectors and conditions
// are parsed into trees of Expr at load time rather than evaluated from
// raw JSON at each request.
type Expr interface {
	Eval(attrs map[string]any) bool
}

// Equals matches when attrs[Attribute] == Value (compared as strings).
type Equals struct {
	Attribute string
	Value     string
}

func (e Equals) Eval(attrs map[string]any) bool {
	return stringAttr(attrs, e.Attribute) == e.Value
}

// In matches when attrs[Attribute] is present in Values.
type In struct {
	Attribute string
	Values    []string
}

func (e In) Eval(attrs map[string]any) bool {
	v := stringAttr(attrs, e.Attribute)
	for _, candidate := range e.Values {
		if v == candidate {
			return true
		}
	}
	return false
}

// Prefix matches when attrs[Attribute] has the given string prefix.
type Prefix struct {
	Attribute string
	Value     string
}

func (e Prefix) Eval(attrs map[string]any) bool {
	return strings.HasPrefix(stringAttr(attrs, e.Attribute), e.Value)
}

// CIDR matches when attrs[Attribute] (an IP literal) falls within the
// given CIDR block. Used for subject/resource attributes like source IP.
type CIDR struct {
	Attribute string
	Block     string
}

func (e CIDR) Eval(attrs map[string]any) bool {
	return CIDRContains(stringAttr(attrs, e.Attribute), e.Block)
}

// And matches when every child matches.
type And []Expr

func (e And) Eval(attrs map[string]any) bool {
	for _, child := range e {
		if !child.Eval(attrs) {
			return false
		}
	}
	return true
}

// Or matches when any child matches.
type Or []Expr

func (e Or) Eval(attrs map[string]any) bool {
	for _, child := range e {
		if child.Eval(attrs) {
			return true
		}
	}
	return false
}

// Not inverts its single child.
type Not struct{ Child Expr }

func (e Not) Eval(attrs map[string]any) bool { return !e.Child.Eval(attrs) }

func stringAttr(attrs map[string]any, name string) string {
	v, ok := attrs[name]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
