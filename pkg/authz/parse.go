package authz

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	ierrors "github.com/ironseal/ironseal/internal/errors"
)

// exprNodeSchema constrains one expression-map node to exactly one of the
// recognized operator keys before it is parsed into an Expr tree. Child
// nodes under "and"/"or"/"not" are re-validated recursively by parseExpr
// itself rather than by a single deeply-nested JSON Schema, so the bootstrap
// loader fails on the first malformed node with a precise path instead of
// one schema-wide error blob.
const exprNodeSchema = `{
  "type": "object",
  "minProperties": 1,
  "maxProperties": 1,
  "properties": {
    "equals": {"type": "object", "required": ["attribute", "value"]},
    "in": {"type": "object", "required": ["attribute", "values"]},
    "prefix": {"type": "object", "required": ["attribute", "value"]},
    "cidr": {"type": "object", "required": ["attribute", "block"]},
    "and": {"type": "array", "minItems": 1},
    "or": {"type": "array", "minItems": 1},
    "not": {"type": "object"}
  },
  "additionalProperties": false
}`

var exprSchemaLoader = gojsonschema.NewStringLoader(exprNodeSchema)

// validateExprShape checks raw against exprNodeSchema.
func validateExprShape(raw map[string]any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshaling expression node: %w", err)
	}
	result, err := gojsonschema.Validate(exprSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validating expression node: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("invalid expression node: %s", result.Errors()[0].String())
	}
	return nil
}

// parseExpr converts a validated selector/condition map into an Expr tree.
// A nil map parses to nil, meaning "always matches".
func parseExpr(raw map[string]any) (Expr, error) {
	if raw == nil {
		return nil, nil
	}
	if err := validateExprShape(raw); err != nil {
		return nil, err
	}

	for key, value := range raw {
		switch key {
		case "equals":
			m := value.(map[string]any)
			return Equals{Attribute: stringField(m, "attribute"), Value: stringField(m, "value")}, nil
		case "in":
			m := value.(map[string]any)
			return In{Attribute: stringField(m, "attribute"), Values: stringSlice(m["values"])}, nil
		case "prefix":
			m := value.(map[string]any)
			return Prefix{Attribute: stringField(m, "attribute"), Value: stringField(m, "value")}, nil
		case "cidr":
			m := value.(map[string]any)
			return CIDR{Attribute: stringField(m, "attribute"), Block: stringField(m, "block")}, nil
		case "and":
			return parseConjunction(value, func(children []Expr) Expr { return And(children) })
		case "or":
			return parseConjunction(value, func(children []Expr) Expr { return Or(children) })
		case "not":
			child, err := parseExpr(value.(map[string]any))
			if err != nil {
				return nil, err
			}
			return Not{Child: child}, nil
		}
	}
	return nil, fmt.Errorf("unreachable: schema validation should have rejected %v", raw)
}

func parseConjunction(value any, build func([]Expr) Expr) (Expr, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array of expression nodes")
	}
	children := make([]Expr, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expression array item is not an object")
		}
		child, err := parseExpr(m)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return build(children), nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// PolicyFromDefinition builds an AccessPolicy from a bootstrap
// configuration's raw selector/condition maps, validating and parsing each
// into an Expr tree. effect must be "allow" or "deny".
func PolicyFromDefinition(name, effect string, subjectSelector, resourceSelector map[string]any, actions []string, condition map[string]any, priority int, enabled bool) (*AccessPolicy, error) {
	var e Effect
	switch effect {
	case "allow":
		e = EffectAllow
	case "deny":
		e = EffectDeny
	default:
		return nil, ierrors.New(ierrors.InvalidArgument, "authz.PolicyFromDefinition", fmt.Sprintf("unknown effect %q", effect))
	}

	subjectExpr, err := parseExpr(subjectSelector)
	if err != nil {
		return nil, fmt.Errorf("subject_selector: %w", err)
	}
	resourceExpr, err := parseExpr(resourceSelector)
	if err != nil {
		return nil, fmt.Errorf("resource_selector: %w", err)
	}
	conditionExpr, err := parseExpr(condition)
	if err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}

	return &AccessPolicy{
		Name:             name,
		Effect:           e,
		SubjectSelector:  subjectExpr,
		ResourceSelector: resourceExpr,
		Actions:          actions,
		Condition:        conditionExpr,
		Priority:         priority,
		Enabled:          enabled,
	}, nil
}
