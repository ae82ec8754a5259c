package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyFromDefinitionBuildsExprTree(t *testing.T) {
	policy, err := PolicyFromDefinition(
		"office-network-only",
		"allow",
		nil,
		map[string]any{"equals": map[string]any{"attribute": "resource", "value": "kv/app/db"}},
		[]string{"read"},
		map[string]any{"cidr": map[string]any{"attribute": "ip", "block": "10.0.0.0/8"}},
		10,
		true,
	)
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, policy.Effect)
	assert.True(t, policy.Condition.Eval(map[string]any{"ip": "10.1.2.3"}))
	assert.False(t, policy.Condition.Eval(map[string]any{"ip": "192.168.1.1"}))
}

func TestPolicyFromDefinitionRejectsUnknownEffect(t *testing.T) {
	_, err := PolicyFromDefinition("bad", "maybe", nil, nil, nil, nil, 0, true)
	require.Error(t, err)
}

func TestPolicyFromDefinitionRejectsMalformedCondition(t *testing.T) {
	_, err := PolicyFromDefinition("bad", "allow", nil, nil, nil,
		map[string]any{"equals": map[string]any{"attribute": "resource"}}, 0, true)
	require.Error(t, err)
}

func TestParseExprAndOr(t *testing.T) {
	expr, err := parseExpr(map[string]any{
		"and": []any{
			map[string]any{"prefix": map[string]any{"attribute": "resource", "value": "kv/"}},
			map[string]any{"not": map[string]any{"equals": map[string]any{"attribute": "action", "value": "delete"}}},
		},
	})
	require.NoError(t, err)
	assert.True(t, expr.Eval(map[string]any{"resource": "kv/app", "action": "read"}))
	assert.False(t, expr.Eval(map[string]any{"resource": "kv/app", "action": "delete"}))
}
