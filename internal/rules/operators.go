// internal/rules/operators.go
package rules

import (
	"fmt"

	"github.com/solatis/tripwire/internal/types"
)

/*
 * Comparison operators.
 *
 * Six numeric operators. Both operands are converted to float64 by
 * toNumber before Compare runs, so Compare itself never fails.
 *
 * Wire names: the long forms (equal, greaterThanInclusive, ...) are what
 * stored rules carry; the short forms (eq, gte, ...) are accepted for
 * hand-written rules and the HTTP API.
 */

// Operator identifies a clause comparison.
type Operator int

const (
	OpUnspecified Operator = iota
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

var operatorNames = map[string]Operator{
	"equal":                OpEq,
	"notEqual":             OpNeq,
	"lessThan":             OpLt,
	"lessThanInclusive":    OpLte,
	"greaterThan":          OpGt,
	"greaterThanInclusive": OpGte,
	"eq":                   OpEq,
	"neq":                  OpNeq,
	"lt":                   OpLt,
	"lte":                  OpLte,
	"gt":                   OpGt,
	"gte":                  OpGte,
}

// ParseOperator maps a wire name to an Operator.
func ParseOperator(name string) (Operator, error) {
	op, ok := operatorNames[name]
	if !ok {
		return OpUnspecified, fmt.Errorf("%w: %q", types.ErrInvalidOperator, name)
	}
	return op, nil
}

func (op Operator) String() string {
	switch op {
	case OpEq:
		return "eq"
	case OpNeq:
		return "neq"
	case OpLt:
		return "lt"
	case OpLte:
		return "lte"
	case OpGt:
		return "gt"
	case OpGte:
		return "gte"
	default:
		return "unspecified"
	}
}

// Compare applies op to value (left) and target (right).
func Compare(op Operator, value, target float64) bool {
	switch op {
	case OpEq:
		return value == target
	case OpNeq:
		return value != target
	case OpLt:
		return value < target
	case OpLte:
		return value <= target
	case OpGt:
		return value > target
	case OpGte:
		return value >= target
	default:
		return false
	}
}
