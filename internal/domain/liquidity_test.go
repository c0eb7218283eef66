package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiquidityIndexCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b LiquidityIndex
		want int
	}{
		{"finite less", FiniteLiquidity(1), FiniteLiquidity(2), -1},
		{"finite equal", FiniteLiquidity(2), FiniteLiquidity(2), 0},
		{"infinite above finite", InfiniteLiquidity(), FiniteLiquidity(1e300), 1},
		{"finite below infinite", FiniteLiquidity(1e300), InfiniteLiquidity(), -1},
		{"both infinite", InfiniteLiquidity(), InfiniteLiquidity(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestLiquidityIndexJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Finite   LiquidityIndex `json:"finite"`
		Infinite LiquidityIndex `json:"infinite"`
	}{FiniteLiquidity(75.75), InfiniteLiquidity()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"finite":75.75,"infinite":"inf"}`, string(b))

	var got struct {
		Finite   LiquidityIndex `json:"finite"`
		Infinite LiquidityIndex `json:"infinite"`
	}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, FiniteLiquidity(75.75), got.Finite)
	assert.True(t, got.Infinite.Infinite)

	var bad LiquidityIndex
	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &bad))
}

func TestLiquidityIndexFloat64(t *testing.T) {
	assert.True(t, math.IsInf(InfiniteLiquidity().Float64(), 1))
	assert.Equal(t, 3.5, FiniteLiquidity(3.5).Float64())
	assert.Equal(t, "inf", InfiniteLiquidity().String())
}
