// internal/rules/compile.go
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/solatis/tripwire/internal/types"
)

/*
 * Condition compilation and validation.
 *
 * Compiles a types.Condition tree into a CompiledCondition with parsed
 * operators, numeric literals and precomputed fact memo keys.
 *
 * Validation (all at rule create/update time):
 *   1. Every group has at least one child and at most MaxGroupChildren
 *   2. Nesting depth does not exceed MaxConditionDepth
 *   3. Every clause names a fact and uses a known operator
 *   4. Literal operands are numeric
 *   5. Fact params serialize to JSON (they become part of the memo key)
 *
 * Authored order is preserved; evaluation short-circuits in that order.
 */

// factKey identifies one fact resolution within a pass.
type factKey struct {
	id     string
	params map[string]any
	memo   string // id + canonical params
}

// compiledClause is a clause ready for evaluation.
type compiledClause struct {
	source  types.Clause
	fact    factKey
	op      Operator
	target  *factKey // nil for literal comparisons
	literal float64
}

// compiledNode is either a group (clause == nil) or a leaf clause.
type compiledNode struct {
	group    types.GroupOperator
	children []*compiledNode
	clause   *compiledClause
}

// CompiledCondition is a validated condition tree ready for evaluation.
type CompiledCondition struct {
	root    *compiledNode
	Depth   int
	Clauses int
}

// ParseCondition decodes a condition tree from its wire format.
func ParseCondition(data []byte) (types.Condition, error) {
	return types.UnmarshalCondition(data)
}

// Compile validates a condition tree and pre-processes it for evaluation.
func Compile(cond types.Condition) (*CompiledCondition, error) {
	cc := &CompiledCondition{}
	root, err := cc.compileNode(cond, 1)
	if err != nil {
		return nil, err
	}
	cc.root = root
	return cc, nil
}

func (cc *CompiledCondition) compileNode(cond types.Condition, depth int) (*compiledNode, error) {
	if depth > types.MaxConditionDepth {
		return nil, fmt.Errorf("%w: depth %d > %d", types.ErrConditionTooDeep, depth, types.MaxConditionDepth)
	}
	if depth > cc.Depth {
		cc.Depth = depth
	}

	switch n := cond.(type) {
	case *types.Group:
		if n == nil {
			return nil, fmt.Errorf("%w: nil group", types.ErrInvalidCondition)
		}
		if n.Operator != types.GroupAll && n.Operator != types.GroupAny {
			return nil, fmt.Errorf("%w: unknown group operator %q", types.ErrInvalidCondition, n.Operator)
		}
		if len(n.Children) == 0 {
			return nil, fmt.Errorf("%w: %w (%s)", types.ErrInvalidCondition, types.ErrEmptyGroup, n.Operator)
		}
		if len(n.Children) > types.MaxGroupChildren {
			return nil, fmt.Errorf("%w: %s has %d children, limit %d",
				types.ErrInvalidCondition, n.Operator, len(n.Children), types.MaxGroupChildren)
		}
		node := &compiledNode{group: n.Operator, children: make([]*compiledNode, 0, len(n.Children))}
		for _, child := range n.Children {
			c, err := cc.compileNode(child, depth+1)
			if err != nil {
				return nil, err
			}
			node.children = append(node.children, c)
		}
		return node, nil

	case *types.Clause:
		if n == nil {
			return nil, fmt.Errorf("%w: nil clause", types.ErrInvalidCondition)
		}
		clause, err := compileClause(n)
		if err != nil {
			return nil, err
		}
		cc.Clauses++
		return &compiledNode{clause: clause}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported node %T", types.ErrInvalidCondition, cond)
	}
}

// compileClause validates a single clause and resolves its literal operand.
func compileClause(c *types.Clause) (*compiledClause, error) {
	op, err := ParseOperator(c.Operator)
	if err != nil {
		return nil, fmt.Errorf("%w: fact %q: %w", types.ErrInvalidCondition, c.Fact.ID, err)
	}
	fact, err := newFactKey(c.Fact)
	if err != nil {
		return nil, err
	}
	out := &compiledClause{source: *c, fact: fact, op: op}

	if c.Value.Fact != nil {
		target, err := newFactKey(*c.Value.Fact)
		if err != nil {
			return nil, err
		}
		out.target = &target
		return out, nil
	}

	if c.Value.Literal == nil {
		return nil, fmt.Errorf("%w: fact %q: missing value", types.ErrInvalidCondition, c.Fact.ID)
	}
	lit, err := toNumber(c.Value.Literal)
	if err != nil {
		return nil, fmt.Errorf("%w: fact %q: literal: %w", types.ErrInvalidCondition, c.Fact.ID, err)
	}
	out.literal = lit
	return out, nil
}

// newFactKey builds the memo key for a fact reference.
// encoding/json sorts map keys, so equal params produce equal keys.
func newFactKey(ref types.FactRef) (factKey, error) {
	if ref.ID == "" {
		return factKey{}, fmt.Errorf("%w: empty fact id", types.ErrInvalidCondition)
	}
	key := ref.ID
	if len(ref.Params) > 0 {
		b, err := json.Marshal(ref.Params)
		if err != nil {
			return factKey{}, fmt.Errorf("%w: fact %q params: %v", types.ErrInvalidCondition, ref.ID, err)
		}
		key += "\x00" + string(b)
	}
	return factKey{id: ref.ID, params: ref.Params, memo: key}, nil
}
