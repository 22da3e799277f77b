package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsOrderInsensitive(t *testing.T) {
	a := SubscriptionSpec{Type: "issues", Params: map[string]any{
		"status":   "open",
		"assignee": "max",
	}}
	b := SubscriptionSpec{Type: "issues", Params: map[string]any{
		"assignee": "max",
		"status":   "open",
	}}

	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "issues?assignee=max&status=open", a.Key())
}

func TestKeyLowercasesType(t *testing.T) {
	a := SubscriptionSpec{Type: "Issues"}
	b := SubscriptionSpec{Type: "issues"}

	assert.Equal(t, b.Key(), a.Key())
	assert.Equal(t, "issues?", a.Key())
}

func TestKeyEncodesValues(t *testing.T) {
	spec := SubscriptionSpec{Type: "issues", Params: map[string]any{
		"assignee": "a b&c=d",
	}}
	assert.Equal(t, "issues?assignee=a+b%26c%3Dd", spec.Key())
}

func TestKeyFormatsNumbersAndBools(t *testing.T) {
	// JSON decoding delivers numbers as float64; integers must not grow
	// a fractional part.
	spec := SubscriptionSpec{Type: "issues", Params: map[string]any{
		"priority_max": float64(2),
	}}
	assert.Equal(t, "issues?priority_max=2", spec.Key())

	spec = SubscriptionSpec{Type: "issues", Params: map[string]any{
		"priority_max": 2.5,
	}}
	assert.Equal(t, "issues?priority_max=2.5", spec.Key())

	assert.Equal(t, "true", formatParamValue(true))
}

func TestValidateAcceptsKnownQueries(t *testing.T) {
	require.NoError(t, SubscriptionSpec{Type: "issues"}.Validate())
	require.NoError(t, SubscriptionSpec{Type: "issues", Params: map[string]any{
		"status": "in_progress",
	}}.Validate())
	require.NoError(t, SubscriptionSpec{Type: "epic_children", Params: map[string]any{
		"parent": "bb-1",
	}}.Validate())
}

func TestValidateRejectsMalformedSpecs(t *testing.T) {
	assert.Error(t, SubscriptionSpec{Type: "everything"}.Validate(), "unknown type")
	assert.Error(t, SubscriptionSpec{Type: "issues", Params: map[string]any{
		"nope": "x",
	}}.Validate(), "unknown parameter")
	assert.Error(t, SubscriptionSpec{Type: "epic_children"}.Validate(), "missing required parameter")
	assert.Error(t, SubscriptionSpec{Type: "epic_children", Params: map[string]any{
		"parent": "",
	}}.Validate(), "empty required parameter")
	assert.Error(t, SubscriptionSpec{Type: "issues", Params: map[string]any{
		"status": []string{"open"},
	}}.Validate(), "unsupported value type")
}
