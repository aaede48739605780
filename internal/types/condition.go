// internal/types/condition.go
package types

/*
 * Condition tree domain types and wire codec.
 *
 * A condition is a closed variant: *Group (all/any over children) or *Clause
 * (fact <op> value). The unexported marker method keeps the set closed so
 * internal/rules can switch exhaustively.
 *
 * Wire format (historical, kept for stored payloads):
 *   {"all": [ ... ]}                 AND group
 *   {"any": [ ... ]}                 OR group
 *   {"fact": "balance.available",    clause
 *    "params": {"account": "chk"},
 *    "operator": "greaterThanInclusive",
 *    "value": 100}
 * The clause value may itself be {"fact": "...", "params": {...}} to compare
 * two facts.
 *
 * Decoding preserves literals as json.Number; numeric validation happens in
 * rules.Compile so that malformed trees are rejected with a specific sentinel.
 */

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Condition is a node of a condition tree: *Group or *Clause.
type Condition interface {
	conditionNode()
}

// GroupOperator combines the children of a group.
type GroupOperator string

const (
	GroupAll GroupOperator = "all"
	GroupAny GroupOperator = "any"
)

// Group is an AND (all) or OR (any) over child conditions.
type Group struct {
	Operator GroupOperator
	Children []Condition
}

// FactRef names a parameterized fact.
type FactRef struct {
	ID     string         `json:"fact"`
	Params map[string]any `json:"params,omitempty"`
}

// Operand is the right-hand side of a clause: a fact (Fact != nil) or a literal.
type Operand struct {
	Fact    *FactRef
	Literal any
}

// Clause compares a fact against an operand.
// Operator holds the wire name; rules.Compile maps it to a comparison.
type Clause struct {
	Fact     FactRef
	Operator string
	Value    Operand
}

func (*Group) conditionNode()  {}
func (*Clause) conditionNode() {}

// All builds an AND group.
func All(children ...Condition) *Group {
	return &Group{Operator: GroupAll, Children: children}
}

// Any builds an OR group.
func Any(children ...Condition) *Group {
	return &Group{Operator: GroupAny, Children: children}
}

// Literal builds a literal operand.
func Literal(v any) Operand {
	return Operand{Literal: v}
}

// FactOperand builds a fact operand.
func FactOperand(id string, params map[string]any) Operand {
	return Operand{Fact: &FactRef{ID: id, Params: params}}
}

type clauseJSON struct {
	Fact     string          `json:"fact"`
	Params   map[string]any  `json:"params,omitempty"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

// UnmarshalCondition decodes a condition tree from its wire format.
func UnmarshalCondition(data []byte) (Condition, error) {
	var obj map[string]json.RawMessage
	if err := decodeNumbers(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	allRaw, hasAll := obj["all"]
	anyRaw, hasAny := obj["any"]
	_, hasFact := obj["fact"]

	kinds := 0
	for _, b := range []bool{hasAll, hasAny, hasFact} {
		if b {
			kinds++
		}
	}
	if kinds != 1 {
		return nil, fmt.Errorf("%w: node must have exactly one of all, any or fact", ErrInvalidCondition)
	}

	switch {
	case hasAll:
		return unmarshalGroup(GroupAll, allRaw)
	case hasAny:
		return unmarshalGroup(GroupAny, anyRaw)
	default:
		return unmarshalClause(data)
	}
}

func unmarshalGroup(op GroupOperator, data json.RawMessage) (*Group, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidCondition, op)
	}
	g := &Group{Operator: op, Children: make([]Condition, 0, len(raws))}
	for _, r := range raws {
		child, err := UnmarshalCondition(r)
		if err != nil {
			return nil, err
		}
		g.Children = append(g.Children, child)
	}
	return g, nil
}

func unmarshalClause(data []byte) (*Clause, error) {
	var raw clauseJSON
	if err := decodeNumbers(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	c := &Clause{
		Fact:     FactRef{ID: raw.Fact, Params: raw.Params},
		Operator: raw.Operator,
	}
	v := bytes.TrimSpace(raw.Value)
	switch {
	case len(v) == 0 || string(v) == "null":
		// Missing value: rejected by rules.Compile.
	case v[0] == '{':
		var ref FactRef
		if err := decodeNumbers(v, &ref); err != nil {
			return nil, fmt.Errorf("%w: value: %v", ErrInvalidCondition, err)
		}
		c.Value.Fact = &ref
	default:
		var lit any
		if err := decodeNumbers(v, &lit); err != nil {
			return nil, fmt.Errorf("%w: value: %v", ErrInvalidCondition, err)
		}
		c.Value.Literal = lit
	}
	return c, nil
}

// decodeNumbers unmarshals with UseNumber so literals keep their exact text.
func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// MarshalCondition encodes a condition tree in its wire format.
func MarshalCondition(c Condition) ([]byte, error) {
	v, err := conditionValue(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func conditionValue(c Condition) (any, error) {
	switch n := c.(type) {
	case *Group:
		children := make([]any, 0, len(n.Children))
		for _, child := range n.Children {
			v, err := conditionValue(child)
			if err != nil {
				return nil, err
			}
			children = append(children, v)
		}
		return map[string]any{string(n.Operator): children}, nil
	case *Clause:
		out := map[string]any{
			"fact":     n.Fact.ID,
			"operator": n.Operator,
		}
		if len(n.Fact.Params) > 0 {
			out["params"] = n.Fact.Params
		}
		if n.Value.Fact != nil {
			out["value"] = n.Value.Fact
		} else {
			out["value"] = n.Value.Literal
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("%w: nil node", ErrInvalidCondition)
	default:
		return nil, fmt.Errorf("%w: unknown node %T", ErrInvalidCondition, c)
	}
}
