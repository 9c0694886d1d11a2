package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigiauto/vigiauto/internal/domain"
)

func TestBuiltinFixtures(t *testing.T) {
	a := New(domain.SourceAutoScout24)

	listings, err := a.ScanIndex(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, listings, 6)
	assert.Equal(t, 1, a.IndexCalls())

	// MOCK001 appears twice so every dry run exercises the strict dedup.
	ids := map[string]int{}
	for _, l := range listings {
		assert.Equal(t, domain.SourceAutoScout24, l.Source)
		require.NotEmpty(t, l.SourceListingID)
		ids[l.SourceListingID]++
	}
	assert.Equal(t, 2, ids["MOCK001"])
	assert.Equal(t, 1, ids["MOCK002"])
}

func TestFetchDetailIgnoresTrackingParams(t *testing.T) {
	a := New(domain.SourceAutoScout24)

	listings, err := a.ScanIndex(context.Background(), 1)
	require.NoError(t, err)

	d, err := a.FetchDetail(context.Background(), listings[0].URL)
	require.NoError(t, err)
	assert.Contains(t, d.Description, "distribution faite")
	assert.Equal(t, domain.SellerParticulier, d.SellerType)
	assert.Len(t, d.ImagesURLs, 6)
}

func TestFetchDetailUnknownURL(t *testing.T) {
	a := New(domain.SourceLeboncoin)

	d, err := a.FetchDetail(context.Background(), "https://annonces.example/voitures/inconnue")
	require.NoError(t, err)
	assert.Empty(t, d.Description)
}

func TestErrorInjection(t *testing.T) {
	boom := errors.New("boom")
	a := NewWith(domain.SourceLaCentrale, nil, nil)
	a.IndexErr = boom
	a.DetailErr = boom

	_, err := a.ScanIndex(context.Background(), 1)
	assert.ErrorIs(t, err, boom)

	_, err = a.FetchDetail(context.Background(), "https://annonces.example/x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.DetailCalls())
}

func TestDetailDelayHonoursContext(t *testing.T) {
	a := New(domain.SourceAutoScout24)
	a.DetailDelay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.FetchDetail(ctx, "https://annonces.example/voitures/mock001")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCustomFixtures(t *testing.T) {
	prix := 2000
	custom := []domain.IndexResult{{
		Source:          domain.SourceParuVendu,
		URL:             "https://annonces.example/voitures/custom1",
		SourceListingID: "CUSTOM1",
		Titre:           "Peugeot 207 1.4 HDi",
		Prix:            &prix,
	}}
	a := NewWith(domain.SourceParuVendu, custom, map[string]*domain.DetailResult{
		"https://annonces.example/voitures/custom1": {Description: "ct ok"},
	})

	listings, err := a.ScanIndex(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, listings, 1)

	// Callers may mutate the returned slice without corrupting fixtures.
	listings[0].Titre = "changed"
	again, err := a.ScanIndex(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Peugeot 207 1.4 HDi", again[0].Titre)

	d, err := a.FetchDetail(context.Background(), custom[0].URL)
	require.NoError(t, err)
	assert.Equal(t, "ct ok", d.Description)
}
