package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamerlab/avitofleet/pkg/avito"
)

func TestStopwordMatcherWholeWord(t *testing.T) {
	m := NewStopwordMatcher([]string{"аналог"})

	assert.Equal(t, []string{"аналог"}, m.Match("точный аналог оригинала"))
	assert.Equal(t, []string{"аналог"}, m.Match("аналог"))
	assert.Equal(t, []string{"аналог"}, m.Match("Продаю АНАЛОГ дешево"))
	// Whole-word matching must not fire inside a longer token.
	assert.Nil(t, m.Match("аналоговый прибор"))
}

func TestStopwordMatcherSubstring(t *testing.T) {
	// Words with '-', '/' or '.' match as substrings.
	m := NewStopwordMatcher([]string{"б/у", "б.у"})

	assert.Equal(t, []string{"б/у"}, m.Match("состояние б/у, как новое"))
	assert.Equal(t, []string{"б.у"}, m.Match("деталь(б.у)в наличии"))
	assert.Nil(t, m.Match("новая деталь"))
}

func TestStopwordMatcherEmptyText(t *testing.T) {
	m := NewStopwordMatcher([]string{"аналог"})
	assert.Nil(t, m.Match(""))
}

func TestPriceThreshold(t *testing.T) {
	// Ten prices: top-20% is {1000, 900}, median of that slice is 1000,
	// nothing exceeds 3x median, mean is 950, threshold is 475.
	prices := []float64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}
	threshold, ok := PriceThreshold(prices)
	require.True(t, ok)
	assert.InDelta(t, 475, threshold, 0.001)
}

func TestPriceThresholdDropsOutliers(t *testing.T) {
	// Top-20% is {100000, 1000}; median (upper of the two) is 100000, so
	// nothing is beyond 3x median here. Rebuild with a genuine outlier:
	// top-20% {100000, 900, 800} has median 900; 100000 > 2700 is dropped.
	prices := []float64{100, 200, 300, 400, 500, 600, 700, 800, 900, 100000,
		150, 250, 350, 450, 550}
	threshold, ok := PriceThreshold(prices)
	require.True(t, ok)
	// Top-20% of 15 prices = top 3 = {100000, 900, 800}, median 900,
	// outlier 100000 dropped, mean(900, 800) = 850, threshold 425.
	assert.InDelta(t, 425, threshold, 0.001)
}

func TestPriceThresholdAllOutliersFallsBackToMedian(t *testing.T) {
	// Single price: top slice is itself, never an outlier.
	threshold, ok := PriceThreshold([]float64{100})
	require.True(t, ok)
	assert.InDelta(t, 50, threshold, 0.001)
}

func TestPriceThresholdNoPrices(t *testing.T) {
	_, ok := PriceThreshold(nil)
	assert.False(t, ok)
}

func TestMechanical(t *testing.T) {
	listings := []avito.Listing{
		{AvitoItemID: 1, Title: "оригинальная деталь", Price: 1000},
		{AvitoItemID: 2, Title: "деталь аналог", Price: 1000},
		{AvitoItemID: 3, Title: "деталь", Description: "состояние б/у", Price: 900},
		{AvitoItemID: 4, Title: "деталь", Price: 10},
		{AvitoItemID: 5, Title: "деталь без цены", Price: 0},
	}

	results := Mechanical(listings, []string{"аналог", "б/у"})
	require.Len(t, results, 5)

	assert.True(t, results[1].Passed)
	assert.Empty(t, results[1].RejectionReason)

	assert.False(t, results[2].Passed)
	assert.Equal(t, ReasonStopwords, results[2].RejectionReason)

	assert.False(t, results[3].Passed)
	assert.Equal(t, ReasonStopwords, results[3].RejectionReason)

	assert.False(t, results[4].Passed)
	assert.Equal(t, ReasonPrice, results[4].RejectionReason)

	// Zero price skips the price check entirely.
	assert.True(t, results[5].Passed)
}

func TestMechanicalWithThresholdFromWiderSet(t *testing.T) {
	// The caller computed the threshold over a wider set than the listings
	// under review; the subset's own prices must not dilute it.
	listings := []avito.Listing{
		{AvitoItemID: 1, Title: "деталь", Price: 100},
	}

	results := MechanicalWithThreshold(listings, nil, 5000, true)
	require.Len(t, results, 1)
	assert.False(t, results[1].Passed)
	assert.Equal(t, ReasonPrice, results[1].RejectionReason)

	results = MechanicalWithThreshold(listings, nil, 0, false)
	assert.True(t, results[1].Passed)
}

func TestMechanicalStopwordsInSeller(t *testing.T) {
	listings := []avito.Listing{
		{AvitoItemID: 1, Title: "деталь", Seller: "магазин аналогов и копий", Price: 1000},
	}
	// "аналогов" is not the whole word "аналог"; seller text needs its own
	// stop-word to fire.
	results := Mechanical(listings, []string{"аналог"})
	assert.True(t, results[1].Passed)

	results = Mechanical(listings, []string{"копий"})
	assert.False(t, results[1].Passed)
	assert.Equal(t, ReasonStopwords, results[1].RejectionReason)
}

func TestMechanicalNoListings(t *testing.T) {
	assert.Empty(t, Mechanical(nil, []string{"аналог"}))
}

func TestMechanicalSkipsListingsWithoutID(t *testing.T) {
	results := Mechanical([]avito.Listing{{Title: "деталь", Price: 100}}, nil)
	assert.Empty(t, results)
}
