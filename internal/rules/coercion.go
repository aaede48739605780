// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/solatis/tripwire/internal/types"
)

/*
 * Numeric coercion for clause operands.
 *
 * Fact handlers return whatever their data source produces: Go numeric
 * kinds, json.Number from decoded HTTP bodies, or numeric strings from
 * ledger APIs that format money as text. All of these become float64.
 *
 * Strict mode only: booleans, nil, empty or whitespace-only strings, NaN
 * and infinities are rejected with ErrNonNumericValue. There is no lenient
 * fallback because every operator is numeric.
 */

// toNumber converts v to float64 or returns ErrNonNumericValue.
func toNumber(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", types.ErrNonNumericValue, n.String())
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, fmt.Errorf("%w: empty string", types.ErrNonNumericValue)
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", types.ErrNonNumericValue, n)
		}
		f = parsed
	case nil:
		return 0, fmt.Errorf("%w: null", types.ErrNonNumericValue)
	default:
		return 0, fmt.Errorf("%w: %T", types.ErrNonNumericValue, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", types.ErrNonNumericValue, f)
	}
	return f, nil
}
