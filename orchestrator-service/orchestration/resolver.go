package orchestration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	scopeStepResult   = "step_result"
	scopePreviousStep = "previous_step"
)

var expressionPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_][a-zA-Z0-9_.\-]*)\}`)

// Bindings holds the step results a payload template may reference.
// Current is the result of the step being compensated (step_result scope),
// Previous the result of the step immediately preceding the one executing
// (previous_step scope), and Steps the full results snapshot keyed by step
// ID so a compensation payload can reach back to any earlier step.
type Bindings struct {
	Current  map[string]interface{}
	Previous map[string]interface{}
	Steps    map[string]map[string]interface{}
}

// Resolver materializes payload templates against step results. It is pure:
// the input template is never mutated and resolving the same template
// against the same bindings always yields the same output.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve walks the template and substitutes every ${...} expression. A
// string value that is exactly one expression is replaced by the resolved
// value with its original type; expressions embedded in a longer string are
// interpolated as text.
func (r *Resolver) Resolve(template map[string]interface{}, bindings Bindings) (map[string]interface{}, error) {
	if template == nil {
		return map[string]interface{}{}, nil
	}

	resolved, err := r.resolveValue(template, bindings)
	if err != nil {
		return nil, err
	}

	return resolved.(map[string]interface{}), nil
}

func (r *Resolver) resolveValue(value interface{}, bindings Bindings) (interface{}, error) {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for key, nested := range typed {
			resolved, err := r.resolveValue(nested, bindings)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, nested := range typed {
			resolved, err := r.resolveValue(nested, bindings)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		return r.resolveString(typed, bindings)
	default:
		return value, nil
	}
}

func (r *Resolver) resolveString(value string, bindings Bindings) (interface{}, error) {
	matches := expressionPattern.FindAllStringSubmatchIndex(value, -1)
	if len(matches) == 0 {
		return value, nil
	}

	// Whole string is a single expression: preserve the resolved type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(value) {
		return r.lookup(value[matches[0][2]:matches[0][3]], bindings)
	}

	var out strings.Builder
	last := 0
	for _, match := range matches {
		out.WriteString(value[last:match[0]])
		resolved, err := r.lookup(value[match[2]:match[3]], bindings)
		if err != nil {
			return nil, err
		}
		out.WriteString(fmt.Sprintf("%v", resolved))
		last = match[1]
	}
	out.WriteString(value[last:])

	return out.String(), nil
}

func (r *Resolver) lookup(expression string, bindings Bindings) (interface{}, error) {
	segments := strings.Split(expression, ".")
	scope := segments[0]
	path := segments[1:]

	var root map[string]interface{}
	switch scope {
	case scopeStepResult:
		if bindings.Current == nil {
			return nil, &ResolutionError{Expression: expression, Reason: "no step result available in this context"}
		}
		root = bindings.Current
	case scopePreviousStep:
		if bindings.Previous == nil {
			return nil, &ResolutionError{Expression: expression, Reason: "no previous step has produced a result"}
		}
		root = bindings.Previous
	default:
		result, ok := bindings.Steps[scope]
		if !ok {
			return nil, &ResolutionError{Expression: expression, Reason: fmt.Sprintf("unknown reference %q", scope)}
		}
		root = result
	}

	if len(path) == 0 {
		return root, nil
	}

	return r.walk(expression, root, path)
}

func (r *Resolver) walk(expression string, root map[string]interface{}, path []string) (interface{}, error) {
	var current interface{} = root
	for _, segment := range path {
		switch typed := current.(type) {
		case map[string]interface{}:
			value, ok := typed[segment]
			if !ok {
				return nil, &ResolutionError{Expression: expression, Reason: fmt.Sprintf("field %q not found", segment)}
			}
			current = value
		case []interface{}:
			index, err := strconv.Atoi(segment)
			if err != nil {
				return nil, &ResolutionError{Expression: expression, Reason: fmt.Sprintf("%q is not a valid list index", segment)}
			}
			if index < 0 || index >= len(typed) {
				return nil, &ResolutionError{Expression: expression, Reason: fmt.Sprintf("index %d out of range", index)}
			}
			current = typed[index]
		default:
			return nil, &ResolutionError{Expression: expression, Reason: fmt.Sprintf("cannot descend into %q through a scalar value", segment)}
		}
	}

	return current, nil
}
