// Package validation implements the two-stage listing validation: the
// mechanical stage (stop-words plus price threshold) and the AI stage
// (hidden-indicator detection through an OpenAI-compatible endpoint).
package validation

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/zamerlab/avitofleet/pkg/avito"
)

// Result is one validation decision for one listing.
type Result struct {
	Passed          bool
	RejectionReason string
	Details         map[string]any
}

// Rejection reasons recorded by the mechanical stage.
const (
	ReasonStopwords = "stopwords"
	ReasonPrice     = "price"
)

// wordMatcher matches one configured stop-word against folded text. The
// substring/whole-word split is deliberate: words carrying '-', '/' or '.'
// (б/у, б.у, б-у) must hit inside tokens, all others only as whole words.
type wordMatcher interface {
	matches(foldedText string) bool
	word() string
}

type substringMatcher struct{ w string }

func (m substringMatcher) matches(text string) bool { return strings.Contains(text, m.w) }
func (m substringMatcher) word() string             { return m.w }

type wholeWordMatcher struct{ w string }

func (m wholeWordMatcher) matches(text string) bool {
	return strings.Contains(" "+text+" ", " "+m.w+" ")
}
func (m wholeWordMatcher) word() string { return m.w }

// StopwordMatcher holds the compiled stop-word list.
type StopwordMatcher struct {
	matchers []wordMatcher
}

// NewStopwordMatcher folds the configured words once and picks the matching
// mode per word.
func NewStopwordMatcher(words []string) *StopwordMatcher {
	folder := cases.Fold()
	matchers := make([]wordMatcher, 0, len(words))
	for _, w := range words {
		folded := folder.String(w)
		if strings.ContainsAny(folded, "-/.") {
			matchers = append(matchers, substringMatcher{w: folded})
		} else {
			matchers = append(matchers, wholeWordMatcher{w: folded})
		}
	}
	return &StopwordMatcher{matchers: matchers}
}

// Match returns the stop-words found in text.
func (m *StopwordMatcher) Match(text string) []string {
	if text == "" {
		return nil
	}
	folded := cases.Fold().String(text)

	var found []string
	for _, matcher := range m.matchers {
		if matcher.matches(folded) {
			found = append(found, matcher.word())
		}
	}
	return found
}

// PriceThreshold computes the minimum plausible price from the full listing
// set: mean of the top-20% prices with >3x-median outliers dropped, halved.
// ok is false when there are no usable prices, which disables the check.
func PriceThreshold(prices []float64) (threshold float64, ok bool) {
	if len(prices) == 0 {
		return 0, false
	}

	sorted := append([]float64(nil), prices...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	topCount := len(sorted) / 5
	if topCount < 1 {
		topCount = 1
	}
	top := sorted[:topCount]

	asc := append([]float64(nil), top...)
	sort.Float64s(asc)
	median := asc[len(asc)/2]

	filtered := top[:0:0]
	for _, p := range top {
		if p <= median*3 {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		filtered = []float64{median}
	}

	var sum float64
	for _, p := range filtered {
		sum += p
	}
	avg := sum / float64(len(filtered))

	return avg * 0.5, true
}

// Mechanical validates every listing against the stop-word list and the
// price threshold computed from the whole set. Stop-word hits win over price
// rejections.
func Mechanical(listings []avito.Listing, stopwords []string) map[int64]Result {
	var prices []float64
	for _, l := range listings {
		if l.Price > 0 {
			prices = append(prices, l.Price)
		}
	}
	threshold, hasThreshold := PriceThreshold(prices)
	return MechanicalWithThreshold(listings, stopwords, threshold, hasThreshold)
}

// MechanicalWithThreshold validates only the given listings but judges prices
// against a threshold the caller computed, typically from a larger set that
// includes cards already stored.
func MechanicalWithThreshold(listings []avito.Listing, stopwords []string, threshold float64, hasThreshold bool) map[int64]Result {
	if len(listings) == 0 {
		return map[int64]Result{}
	}

	matcher := NewStopwordMatcher(stopwords)

	results := make(map[int64]Result, len(listings))
	for _, l := range listings {
		if l.AvitoItemID == 0 {
			continue
		}

		var hits []string
		hits = append(hits, matcher.Match(l.Title)...)
		hits = append(hits, matcher.Match(l.Description)...)
		hits = append(hits, matcher.Match(l.Seller)...)

		switch {
		case len(hits) > 0:
			results[l.AvitoItemID] = Result{
				Passed:          false,
				RejectionReason: ReasonStopwords,
				Details:         map[string]any{"stopwords": hits},
			}
		case hasThreshold && l.Price > 0 && l.Price < threshold:
			results[l.AvitoItemID] = Result{
				Passed:          false,
				RejectionReason: ReasonPrice,
				Details:         map[string]any{"price": l.Price, "threshold": threshold},
			}
		default:
			results[l.AvitoItemID] = Result{Passed: true}
		}
	}
	return results
}
