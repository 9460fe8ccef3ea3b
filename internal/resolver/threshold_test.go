package resolver

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Rule
		wantErr bool
	}{
		{name: "up-integer", input: "up:10", want: Rule{Kind: KindUp, ThresholdBps: 1000}},
		{name: "down-one-decimal", input: "down:2.5", want: Rule{Kind: KindDown, ThresholdBps: 250}},
		{name: "flat-two-decimals", input: "flat:0.25", want: Rule{Kind: KindFlat, ThresholdBps: 25}},
		{name: "zero-threshold", input: "up:0", want: Rule{Kind: KindUp, ThresholdBps: 0}},
		{name: "protocol-max", input: "down:99.99", want: Rule{Kind: KindDown, ThresholdBps: 9999}},
		{name: "uppercase-kind", input: "UP:1", want: Rule{Kind: KindUp, ThresholdBps: 100}},
		{name: "above-max", input: "up:100", wantErr: true},
		{name: "three-decimals", input: "up:1.234", wantErr: true},
		{name: "trailing-dot", input: "up:1.", wantErr: true},
		{name: "negative", input: "up:-1", wantErr: true},
		{name: "missing-colon", input: "up10", wantErr: true},
		{name: "unknown-kind", input: "sideways:1", wantErr: true},
		{name: "empty-percent", input: "up:", wantErr: true},
		{name: "huge-number", input: "up:99999999999999999999999", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseRule(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRule))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateTrade_Boundaries(t *testing.T) {
	t.Parallel()

	up10 := Rule{Kind: KindUp, ThresholdBps: 1000}
	down10 := Rule{Kind: KindDown, ThresholdBps: 1000}
	flat5 := Rule{Kind: KindFlat, ThresholdBps: 500}

	tests := []struct {
		name  string
		entry int64
		exit  int64
		rule  Rule
		want  bool
	}{
		{name: "up-above-threshold", entry: 10000, exit: 11001, rule: up10, want: true},
		{name: "up-exactly-at-threshold", entry: 10000, exit: 11000, rule: up10, want: false},
		{name: "up-below-threshold", entry: 10000, exit: 10999, rule: up10, want: false},
		{name: "down-below-threshold", entry: 10000, exit: 8999, rule: down10, want: true},
		{name: "down-exactly-at-threshold", entry: 10000, exit: 9000, rule: down10, want: false},
		{name: "flat-exactly-at-threshold-high", entry: 10000, exit: 10500, rule: flat5, want: true},
		{name: "flat-exactly-at-threshold-low", entry: 10000, exit: 9500, rule: flat5, want: true},
		{name: "flat-outside", entry: 10000, exit: 10501, rule: flat5, want: false},
		{name: "zero-exit-down", entry: 10000, exit: 0, rule: down10, want: true},
		{name: "zero-exit-up", entry: 10000, exit: 0, rule: up10, want: false},
		{name: "up-zero-threshold-unchanged", entry: 100, exit: 100, rule: Rule{Kind: KindUp}, want: false},
		{name: "up-zero-threshold-tick-up", entry: 100, exit: 101, rule: Rule{Kind: KindUp}, want: true},
		{name: "flat-zero-threshold-unchanged", entry: 100, exit: 100, rule: Rule{Kind: KindFlat}, want: true},
		{name: "down-max-threshold", entry: 10000, exit: 0, rule: Rule{Kind: KindDown, ThresholdBps: 9999}, want: true},
		{name: "down-max-threshold-boundary", entry: 10000, exit: 1, rule: Rule{Kind: KindDown, ThresholdBps: 9999}, want: false},
		{name: "large-prices-no-overflow", entry: math.MaxInt64, exit: math.MaxInt64, rule: up10, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := EvaluateTrade(tt.entry, tt.exit, tt.rule)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateTrade_Invalid(t *testing.T) {
	t.Parallel()

	_, ok := EvaluateTrade(100, 110, Rule{})
	assert.False(t, ok, "zero-value rule must not evaluate")

	_, ok = EvaluateTrade(100, 110, Rule{Kind: KindUp, ThresholdBps: 10000})
	assert.False(t, ok, "threshold above protocol maximum must not evaluate")

	_, ok = EvaluateTrade(-1, 110, Rule{Kind: KindUp})
	assert.False(t, ok, "negative entry must not evaluate")

	_, ok = Evaluate(100, 110, "garbage")
	assert.False(t, ok)
}

func TestEvaluateTrade_Deterministic(t *testing.T) {
	t.Parallel()

	rule := Rule{Kind: KindFlat, ThresholdBps: 333}
	first, _ := EvaluateTrade(123456, 127567, rule)
	for i := 0; i < 1000; i++ {
		got, ok := EvaluateTrade(123456, 127567, rule)
		require.True(t, ok)
		require.Equal(t, first, got)
	}
}

func TestEvaluateTrade_AllocationFree(t *testing.T) {
	rule := Rule{Kind: KindUp, ThresholdBps: 1000}
	allocs := testing.AllocsPerRun(100, func() {
		_, _ = EvaluateTrade(10000, 11001, rule)
	})
	assert.Zero(t, allocs)
}

func TestRule_String(t *testing.T) {
	t.Parallel()

	rule, err := ParseRule("down:2.5")
	require.NoError(t, err)
	assert.Equal(t, "down:2.50", rule.String())

	reparsed, err := ParseRule(rule.String())
	require.NoError(t, err)
	assert.Equal(t, rule, reparsed)
}

func BenchmarkEvaluateTrade(b *testing.B) {
	rule := Rule{Kind: KindUp, ThresholdBps: 1000}
	for i := 0; i < b.N; i++ {
		_, _ = EvaluateTrade(10000, int64(i), rule)
	}
}
