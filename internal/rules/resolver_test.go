// internal/rules/resolver_test.go
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solatis/tripwire/internal/types"
)

// countingResolver returns fixed values keyed by fact id and records every call.
type countingResolver struct {
	values map[string]any
	errs   map[string]error
	calls  []string
}

func newCountingResolver(values map[string]any) *countingResolver {
	return &countingResolver{values: values, errs: map[string]error{}}
}

func (r *countingResolver) Resolve(_ context.Context, factID string, params map[string]any) (any, error) {
	key := factID
	if len(params) > 0 {
		b, _ := json.Marshal(params)
		key += string(b)
	}
	r.calls = append(r.calls, key)
	if err, ok := r.errs[factID]; ok {
		return nil, err
	}
	v, ok := r.values[factID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrFactNotFound, factID)
	}
	return v, nil
}

func (r *countingResolver) count(factID string) int {
	n := 0
	for _, c := range r.calls {
		if strings.HasPrefix(c, factID) && (len(c) == len(factID) || c[len(factID)] == '{') {
			n++
		}
	}
	return n
}

func clause(fact string, op string, v any) *types.Clause {
	return &types.Clause{Fact: types.FactRef{ID: fact}, Operator: op, Value: types.Literal(v)}
}
