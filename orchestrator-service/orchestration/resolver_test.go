package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve(t *testing.T) {
	bindings := Bindings{
		Current: map[string]interface{}{
			"reservation_id": "r-1",
			"items": []interface{}{
				map[string]interface{}{"sku": "ABC-1", "quantity": float64(2)},
			},
		},
		Previous: map[string]interface{}{
			"order_id": "o-42",
			"total":    float64(5000),
		},
		Steps: map[string]map[string]interface{}{
			"create-order": {"order_id": "o-42"},
		},
	}

	tests := []struct {
		name     string
		template map[string]interface{}
		expected map[string]interface{}
	}{
		{
			name:     "plain values pass through untouched",
			template: map[string]interface{}{"sku": "ABC-1", "quantity": 2},
			expected: map[string]interface{}{"sku": "ABC-1", "quantity": 2},
		},
		{
			name:     "whole-string expression keeps the resolved type",
			template: map[string]interface{}{"amount": "${previous_step.total}"},
			expected: map[string]interface{}{"amount": float64(5000)},
		},
		{
			name:     "embedded expression interpolates as text",
			template: map[string]interface{}{"note": "refund for ${previous_step.order_id} of ${previous_step.total}"},
			expected: map[string]interface{}{"note": "refund for o-42 of 5000"},
		},
		{
			name:     "step result scope",
			template: map[string]interface{}{"reservation": "${step_result.reservation_id}"},
			expected: map[string]interface{}{"reservation": "r-1"},
		},
		{
			name:     "dotted path through list index",
			template: map[string]interface{}{"first_sku": "${step_result.items.0.sku}"},
			expected: map[string]interface{}{"first_sku": "ABC-1"},
		},
		{
			name:     "named step reference",
			template: map[string]interface{}{"order": "${create-order.order_id}"},
			expected: map[string]interface{}{"order": "o-42"},
		},
		{
			name: "nested maps and slices resolve recursively",
			template: map[string]interface{}{
				"refund": map[string]interface{}{
					"order_id": "${previous_step.order_id}",
					"lines":    []interface{}{"${step_result.reservation_id}"},
				},
			},
			expected: map[string]interface{}{
				"refund": map[string]interface{}{
					"order_id": "o-42",
					"lines":    []interface{}{"r-1"},
				},
			},
		},
	}

	resolver := NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := resolver.Resolve(tt.template, bindings)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resolved)
		})
	}
}

func TestResolver_ResolveErrors(t *testing.T) {
	tests := []struct {
		name     string
		template map[string]interface{}
		bindings Bindings
		reason   string
	}{
		{
			name:     "previous step reference with no prior step",
			template: map[string]interface{}{"a": "${previous_step.order_id}"},
			bindings: Bindings{},
			reason:   "no previous step",
		},
		{
			name:     "step result reference outside compensation",
			template: map[string]interface{}{"a": "${step_result.reservation_id}"},
			bindings: Bindings{},
			reason:   "no step result",
		},
		{
			name:     "unknown step reference",
			template: map[string]interface{}{"a": "${missing-step.field}"},
			bindings: Bindings{Steps: map[string]map[string]interface{}{}},
			reason:   "unknown reference",
		},
		{
			name:     "missing field",
			template: map[string]interface{}{"a": "${previous_step.nope}"},
			bindings: Bindings{Previous: map[string]interface{}{"order_id": "o-42"}},
			reason:   "not found",
		},
		{
			name:     "index out of range",
			template: map[string]interface{}{"a": "${previous_step.items.3}"},
			bindings: Bindings{Previous: map[string]interface{}{"items": []interface{}{"x"}}},
			reason:   "out of range",
		},
		{
			name:     "descending through a scalar",
			template: map[string]interface{}{"a": "${previous_step.order_id.deeper}"},
			bindings: Bindings{Previous: map[string]interface{}{"order_id": "o-42"}},
			reason:   "scalar",
		},
	}

	resolver := NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := resolver.Resolve(tt.template, tt.bindings)

			require.Error(t, err)
			assert.Nil(t, resolved)

			var resolutionErr *ResolutionError
			require.ErrorAs(t, err, &resolutionErr)
			assert.Contains(t, resolutionErr.Reason, tt.reason)
		})
	}
}

func TestResolver_IsPure(t *testing.T) {
	resolver := NewResolver()
	template := map[string]interface{}{
		"nested": map[string]interface{}{"v": "${previous_step.order_id}"},
	}
	bindings := Bindings{Previous: map[string]interface{}{"order_id": "o-42"}}

	first, err := resolver.Resolve(template, bindings)
	require.NoError(t, err)
	second, err := resolver.Resolve(template, bindings)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// The template itself is never mutated
	assert.Equal(t, "${previous_step.order_id}", template["nested"].(map[string]interface{})["v"])
}
