package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamerlab/avitofleet/pkg/avito"
	"github.com/zamerlab/avitofleet/pkg/store"
	"github.com/zamerlab/avitofleet/pkg/validation"
)

func TestProcessListingsThresholdUsesFullSet(t *testing.T) {
	// Four listings are already stored at 10000; the one unseen listing sits
	// at 100. Judged against the full set the threshold is 5000, so the fresh
	// card must be rejected on price even though it is the only one validated.
	st := &fakeStore{
		existing: map[int64]bool{100: true, 200: true, 300: true, 400: true},
	}
	listings := []avito.Listing{
		{AvitoItemID: 100, Title: "Насос 3К-6", Price: 10000},
		{AvitoItemID: 200, Title: "Насос 3К-6", Price: 10000},
		{AvitoItemID: 300, Title: "Насос 3К-6", Price: 10000},
		{AvitoItemID: 400, Title: "Насос 3К-6", Price: 10000},
		{AvitoItemID: 500, Title: "Насос 3К-6", Price: 100},
	}
	w := newTestWorker(t, st, Deps{})

	_, err := w.processListings(context.Background(), 1, "насос", listings)
	require.NoError(t, err)

	require.Len(t, st.validations, 1)
	v := st.validations[0]
	assert.Equal(t, int64(500), v.itemID)
	assert.Equal(t, store.ValidationMechanical, v.vtype)
	assert.False(t, v.passed)
	assert.Equal(t, validation.ReasonPrice, v.reason)
}

func TestProcessListingsDropsNonCandidateAIVerdicts(t *testing.T) {
	st := &fakeStore{
		aiCards: []store.Card{{AvitoItemID: 100, Title: "Компрессор"}},
	}
	listings := []avito.Listing{
		{AvitoItemID: 100, Title: "Компрессор", Price: 10000},
	}
	w := newTestWorker(t, st, Deps{
		AI: &fakeAI{fn: func(context.Context, []avito.Listing, string) (map[int64]validation.Result, error) {
			// The model passes an ID that was never submitted.
			return map[int64]validation.Result{
				100: {Passed: true},
				999: {Passed: true},
			}, nil
		}},
	})

	passed, err := w.processListings(context.Background(), 1, "компрессор", listings)
	require.NoError(t, err)
	assert.Equal(t, 1, passed)

	var aiItems []int64
	for _, v := range st.validations {
		if v.vtype == store.ValidationAI {
			aiItems = append(aiItems, v.itemID)
		}
	}
	assert.Equal(t, []int64{100}, aiItems)
}
