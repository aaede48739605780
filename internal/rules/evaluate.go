// internal/rules/evaluate.go
package rules

import (
	"context"
	"fmt"

	"github.com/solatis/tripwire/internal/types"
)

/*
 * Condition evaluation.
 *
 * Evaluates a CompiledCondition by walking the tree in authored order and
 * resolving facts lazily through a FactResolver.
 *
 * Evaluation flow per clause:
 *   1. Resolve the left fact (memoized per pass)
 *   2. Resolve the right fact, or use the compiled literal
 *   3. Coerce both to float64 (ErrNonNumericValue on failure)
 *   4. Compare with the clause operator
 *
 * Short-circuit semantics: an all group stops at the first false child, an
 * any group stops at the first true child. Facts behind a short-circuited
 * branch are never resolved.
 *
 * Memoization: within one Evaluate call each (fact id, params) pair is
 * resolved at most once. Nothing is cached across calls.
 *
 * Errors: any resolver or coercion error aborts the pass. The caller treats
 * an aborted pass as not satisfied.
 */

// FactResolver supplies fact values by id and parameters.
type FactResolver interface {
	Resolve(ctx context.Context, factID string, params map[string]any) (any, error)
}

// Result contains the outcome of one evaluation pass.
type Result struct {
	Satisfied bool
	Matched   []types.Clause // clauses evaluated true, in evaluation order
	Resolved  int            // resolver calls made
}

type pass struct {
	ctx      context.Context
	resolver FactResolver
	memo     map[string]float64
	matched  []types.Clause
	calls    int
}

// Evaluate checks the condition against facts supplied by resolver.
func Evaluate(ctx context.Context, cond *CompiledCondition, resolver FactResolver) (Result, error) {
	if cond == nil || cond.root == nil {
		return Result{}, fmt.Errorf("%w: not compiled", types.ErrInvalidCondition)
	}
	p := &pass{ctx: ctx, resolver: resolver, memo: make(map[string]float64)}
	ok, err := p.node(cond.root)
	if err != nil {
		return Result{Resolved: p.calls}, err
	}
	return Result{Satisfied: ok, Matched: p.matched, Resolved: p.calls}, nil
}

func (p *pass) node(n *compiledNode) (bool, error) {
	if n.clause != nil {
		ok, err := p.clause(n.clause)
		if err != nil {
			return false, err
		}
		if ok {
			p.matched = append(p.matched, n.clause.source)
		}
		return ok, nil
	}

	switch n.group {
	case types.GroupAll:
		for _, child := range n.children {
			ok, err := p.node(child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case types.GroupAny:
		for _, child := range n.children {
			ok, err := p.node(child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("%w: unknown group operator %q", types.ErrInvalidCondition, n.group)
}

func (p *pass) clause(c *compiledClause) (bool, error) {
	left, err := p.fact(c.fact)
	if err != nil {
		return false, err
	}
	right := c.literal
	if c.target != nil {
		if right, err = p.fact(*c.target); err != nil {
			return false, err
		}
	}
	return Compare(c.op, left, right), nil
}

// fact resolves k once per pass and returns its numeric value.
func (p *pass) fact(k factKey) (float64, error) {
	if v, ok := p.memo[k.memo]; ok {
		return v, nil
	}
	if err := p.ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", types.ErrResolverUnavailable, err)
	}
	p.calls++
	raw, err := p.resolver.Resolve(p.ctx, k.id, k.params)
	if err != nil {
		return 0, fmt.Errorf("fact %q: %w", k.id, err)
	}
	v, err := toNumber(raw)
	if err != nil {
		return 0, fmt.Errorf("fact %q: %w", k.id, err)
	}
	p.memo[k.memo] = v
	return v, nil
}
