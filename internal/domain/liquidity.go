package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// LiquidityIndex is either a finite ratio of depth to spread or the
// "infinite" marker used for zero-spread books. Infinite compares above
// every finite value.
type LiquidityIndex struct {
	Value    float64
	Infinite bool
}

// FiniteLiquidity wraps a numeric liquidity index.
func FiniteLiquidity(v float64) LiquidityIndex {
	return LiquidityIndex{Value: v}
}

// InfiniteLiquidity returns the zero-spread marker.
func InfiniteLiquidity() LiquidityIndex {
	return LiquidityIndex{Infinite: true}
}

// Compare returns -1, 0 or +1 as l is less than, equal to or greater than o.
func (l LiquidityIndex) Compare(o LiquidityIndex) int {
	switch {
	case l.Infinite && o.Infinite:
		return 0
	case l.Infinite:
		return 1
	case o.Infinite:
		return -1
	case l.Value < o.Value:
		return -1
	case l.Value > o.Value:
		return 1
	default:
		return 0
	}
}

// Float64 returns the index as a float, mapping the infinite marker to +Inf.
// Use only at boundaries that understand IEEE infinities (e.g. metrics).
func (l LiquidityIndex) Float64() float64 {
	if l.Infinite {
		return math.Inf(1)
	}
	return l.Value
}

func (l LiquidityIndex) String() string {
	if l.Infinite {
		return "inf"
	}
	return strconv.FormatFloat(l.Value, 'f', -1, 64)
}

var infJSON = []byte(`"inf"`)

// MarshalJSON encodes finite values as numbers and the marker as "inf".
func (l LiquidityIndex) MarshalJSON() ([]byte, error) {
	if l.Infinite {
		return infJSON, nil
	}
	return json.Marshal(l.Value)
}

// UnmarshalJSON accepts a number or the string "inf".
func (l *LiquidityIndex) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), infJSON) {
		*l = InfiniteLiquidity()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("liquidity index: %w", err)
	}
	*l = FiniteLiquidity(v)
	return nil
}
