package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamerlab/avitofleet/pkg/avito"
	"github.com/zamerlab/avitofleet/pkg/store"
)

func newEnrichWorker(t *testing.T, st *fakeStore, deps Deps) *Worker {
	t.Helper()
	w := newTestWorker(t, st, deps)

	// Give the worker a live session the way runIteration would.
	session, err := (&fakeLauncher{}).Launch(context.Background(), avito.ProxyConfig{})
	require.NoError(t, err)
	w.setProxy(1, "10.0.0.1:8080:u:p")
	w.setSession(session)
	return w
}

func TestEnrichCardsUpdatesDetails(t *testing.T) {
	published := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		detail: []store.Card{
			{AvitoItemID: 100, Article: "насос"},
			{AvitoItemID: 200, Article: "насос"},
		},
	}
	w := newEnrichWorker(t, st, Deps{
		Cards: &fakeCardParser{fn: func(_ context.Context, _ string) (*avito.CardDetails, error) {
			return &avito.CardDetails{
				Title:       "Насос 3К-6",
				Price:       48000,
				PublishedAt: published,
				Location:    "Москва",
			}, nil
		}},
	})

	require.NoError(t, w.enrichCards(context.Background(), "насос"))

	require.Len(t, st.updates, 2)
	assert.Equal(t, int64(100), st.updates[0].itemID)
	assert.Equal(t, published, st.updates[0].details.PublishedAt)
	assert.Equal(t, "Москва", st.updates[0].details.Location)

	// Each detail page was actually visited.
	urls := w.currentSession().(*fakeSession).page.urls()
	require.Len(t, urls, 2)
	assert.Contains(t, urls[0], "/100")
	assert.Contains(t, urls[1], "/200")
}

func TestEnrichCardsMarksDeletedListings(t *testing.T) {
	st := &fakeStore{
		detail: []store.Card{{AvitoItemID: 100, Article: "вал"}},
	}
	w := newEnrichWorker(t, st, Deps{
		Detector: &fakeDetector{states: []avito.PageState{avito.StateNotDetected}},
	})

	require.NoError(t, w.enrichCards(context.Background(), "вал"))

	require.Len(t, st.updates, 1)
	upd := st.updates[0]
	assert.Equal(t, int64(100), upd.itemID)
	assert.Equal(t, store.Epoch, upd.details.PublishedAt)
	assert.Equal(t, "DELETED", upd.details.Location)
	assert.Zero(t, upd.details.ViewsTotal)
	assert.Empty(t, upd.details.Characteristics)
}

func TestEnrichCardsPropagatesProxyBlock(t *testing.T) {
	st := &fakeStore{
		detail: []store.Card{{AvitoItemID: 100}, {AvitoItemID: 200}},
	}
	w := newEnrichWorker(t, st, Deps{
		Detector: &fakeDetector{states: []avito.PageState{avito.StateProxyBlock403}},
	})

	err := w.enrichCards(context.Background(), "вал")
	assert.ErrorIs(t, err, avito.ErrProxyBlocked)
	assert.Empty(t, st.updates)
}

func TestEnrichCardsPropagatesUnsolvedCaptcha(t *testing.T) {
	st := &fakeStore{
		detail: []store.Card{{AvitoItemID: 100}},
	}
	w := newEnrichWorker(t, st, Deps{
		Detector: &fakeDetector{states: []avito.PageState{avito.StateCaptcha}},
		Solver:   &fakeSolver{results: []bool{false}},
	})

	err := w.enrichCards(context.Background(), "вал")
	assert.ErrorIs(t, err, avito.ErrCaptchaNotSolved)
}

func TestEnrichCardsAbortsAfterConsecutiveFailures(t *testing.T) {
	st := &fakeStore{
		detail: []store.Card{{AvitoItemID: 100}, {AvitoItemID: 200}, {AvitoItemID: 300}, {AvitoItemID: 400}},
	}
	w := newEnrichWorker(t, st, Deps{
		Cards: &fakeCardParser{fn: func(_ context.Context, _ string) (*avito.CardDetails, error) {
			return nil, fmt.Errorf("markup changed")
		}},
	})

	err := w.enrichCards(context.Background(), "вал")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consecutive failures")
	assert.Empty(t, st.updates)
}

func TestEnrichCardsCountsIncompleteDetailsAsFailures(t *testing.T) {
	st := &fakeStore{
		detail: []store.Card{{AvitoItemID: 100}, {AvitoItemID: 200}, {AvitoItemID: 300}},
	}
	w := newEnrichWorker(t, st, Deps{
		Cards: &fakeCardParser{fn: func(_ context.Context, _ string) (*avito.CardDetails, error) {
			return &avito.CardDetails{Title: "без даты"}, nil
		}},
	})

	// A missing publication date leaves the row alone for a later run but
	// still counts toward the consecutive-failure budget.
	err := w.enrichCards(context.Background(), "вал")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consecutive failures")
	assert.Empty(t, st.updates)
}
