//go:build property
// +build property

package validation

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestPriceThresholdProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	positivePrices := gen.SliceOfN(10, gen.Float64Range(1, 1e7)).
		SuchThat(func(ps []float64) bool { return len(ps) > 0 })

	properties.Property("threshold never exceeds the maximum price", prop.ForAll(
		func(prices []float64) bool {
			threshold, ok := PriceThreshold(prices)
			if !ok {
				return len(prices) == 0
			}
			max := prices[0]
			for _, p := range prices {
				if p > max {
					max = p
				}
			}
			return threshold <= max
		},
		positivePrices,
	))

	properties.Property("threshold is positive for positive prices", prop.ForAll(
		func(prices []float64) bool {
			threshold, ok := PriceThreshold(prices)
			return ok && threshold > 0
		},
		positivePrices,
	))

	properties.Property("threshold scales linearly with prices", prop.ForAll(
		func(prices []float64, factor float64) bool {
			t1, ok1 := PriceThreshold(prices)
			scaled := make([]float64, len(prices))
			for i, p := range prices {
				scaled[i] = p * factor
			}
			t2, ok2 := PriceThreshold(scaled)
			if ok1 != ok2 {
				return false
			}
			diff := t1*factor - t2
			if diff < 0 {
				diff = -diff
			}
			return diff < 1e-6*t2+1e-9
		},
		positivePrices,
		gen.Float64Range(0.5, 10),
	))

	properties.TestingRun(t)
}

func TestStopwordMatcherProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("a whole-word stop-word always matches itself surrounded by spaces", prop.ForAll(
		func(word string) bool {
			m := NewStopwordMatcher([]string{word})
			return len(m.Match("prefix "+word+" suffix")) == 1
		},
		gen.RegexMatch(`[a-zа-я]{2,12}`),
	))

	properties.TestingRun(t)
}
