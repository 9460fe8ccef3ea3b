// Package resolver evaluates a single trade against a threshold rule.
//
// All comparisons are algebraic over integer basis points. No floating point
// value is ever produced, so every implementation of the protocol reaches the
// same verdict for the same inputs.
package resolver

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// BasisPoints is the fixed denominator for all percentage thresholds.
const BasisPoints = 10000

// MaxThresholdBps is the protocol maximum threshold (99.99%).
const MaxThresholdBps = 9999

// ErrInvalidRule is returned for malformed rule strings.
var ErrInvalidRule = errors.New("invalid rule")

// Kind is the direction a rule tests for.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindUp
	KindDown
	KindFlat
)

func (k Kind) String() string {
	switch k {
	case KindUp:
		return "up"
	case KindDown:
		return "down"
	case KindFlat:
		return "flat"
	default:
		return "invalid"
	}
}

// Rule is a parsed "<kind>:<percent>" threshold.
type Rule struct {
	Kind         Kind
	ThresholdBps uint64
}

// String renders the rule in its canonical compact form.
func (r Rule) String() string {
	return fmt.Sprintf("%s:%d.%02d", r.Kind, r.ThresholdBps/100, r.ThresholdBps%100)
}

// Valid reports whether r can be evaluated.
func (r Rule) Valid() bool {
	return r.Kind != KindInvalid && r.ThresholdBps <= MaxThresholdBps
}

// ParseRule parses "up:10", "down:2.5", "flat:0.25".
// The percent accepts at most two fractional digits and is converted to basis
// points by integer arithmetic only.
func ParseRule(s string) (Rule, error) {
	kindStr, pctStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q: missing ':'", ErrInvalidRule, s)
	}

	var kind Kind
	switch strings.ToLower(kindStr) {
	case "up":
		kind = KindUp
	case "down":
		kind = KindDown
	case "flat":
		kind = KindFlat
	default:
		return Rule{}, fmt.Errorf("%w: %q: unknown kind %q", ErrInvalidRule, s, kindStr)
	}

	bps, err := parsePercentBps(pctStr)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %q: %v", ErrInvalidRule, s, err)
	}

	return Rule{Kind: kind, ThresholdBps: bps}, nil
}

func parsePercentBps(s string) (uint64, error) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		return 0, errors.New("empty percent")
	}
	if hasFrac && (frac == "" || len(frac) > 2) {
		return 0, fmt.Errorf("percent %q must have 1 or 2 fractional digits", s)
	}

	var bps uint64
	for _, c := range whole {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("percent %q is not a non-negative decimal", s)
		}
		bps = bps*10 + uint64(c-'0')
		if bps > MaxThresholdBps {
			return 0, fmt.Errorf("percent %q exceeds maximum", s)
		}
	}
	bps *= 100

	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		for i, c := range frac {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("percent %q is not a non-negative decimal", s)
			}
			if i == 0 {
				bps += uint64(c-'0') * 10
			} else {
				bps += uint64(c - '0')
			}
		}
	}

	if bps > MaxThresholdBps {
		return 0, fmt.Errorf("percent %q exceeds maximum %d bps", s, MaxThresholdBps)
	}

	return bps, nil
}

// EvaluateTrade decides whether the maker side of a rule won.
// ok is false only when the rule or prices are structurally invalid; callers
// must then exclude the trade from the tally.
//
//	up:T   exit*10000 >  entry*(10000+T)
//	down:T exit*10000 <  entry*(10000-T)
//	flat:T |exit-entry|*10000 <= entry*T
func EvaluateTrade(entry int64, exit int64, rule Rule) (win bool, ok bool) {
	if !rule.Valid() || entry < 0 || exit < 0 {
		return false, false
	}

	e := uint64(entry)
	x := uint64(exit)

	switch rule.Kind {
	case KindUp:
		return cmp128(x, BasisPoints, e, BasisPoints+rule.ThresholdBps) > 0, true
	case KindDown:
		return cmp128(x, BasisPoints, e, BasisPoints-rule.ThresholdBps) < 0, true
	case KindFlat:
		diff := x - e
		if e > x {
			diff = e - x
		}
		return cmp128(diff, BasisPoints, e, rule.ThresholdBps) <= 0, true
	default:
		return false, false
	}
}

// Evaluate parses method and evaluates it; an unparsable method yields ok=false.
func Evaluate(entry int64, exit int64, method string) (win bool, ok bool) {
	rule, err := ParseRule(method)
	if err != nil {
		return false, false
	}
	return EvaluateTrade(entry, exit, rule)
}

// cmp128 compares a*b with c*d using full 128-bit products.
func cmp128(a, b, c, d uint64) int {
	hi1, lo1 := bits.Mul64(a, b)
	hi2, lo2 := bits.Mul64(c, d)

	switch {
	case hi1 > hi2:
		return 1
	case hi1 < hi2:
		return -1
	case lo1 > lo2:
		return 1
	case lo1 < lo2:
		return -1
	default:
		return 0
	}
}
