// Package mock is a deterministic in-memory source used by the pipeline
// tests and the scan --dry-run demo path. It impersonates a real
// marketplace name so the rest of the pipeline treats it like any other
// adapter.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vigiauto/vigiauto/internal/domain"
)

// Adapter serves fixture listings. The zero value is not usable; build one
// with New or NewWith. Error-injection fields may be set before the adapter
// is handed to the pipeline.
type Adapter struct {
	name domain.Source
	now  func() time.Time

	// Listings and Details replace the builtin fixtures when set.
	Listings []domain.IndexResult
	Details  map[string]*domain.DetailResult

	// IndexErr / DetailErr make the corresponding call fail.
	IndexErr  error
	DetailErr error

	// DetailDelay simulates page latency on FetchDetail.
	DetailDelay time.Duration

	mu          sync.Mutex
	indexCalls  int
	detailCalls int
}

// New returns an adapter carrying the builtin demo fixtures, published
// times computed relative to each ScanIndex call so freshness stays
// realistic under the daemon.
func New(name domain.Source) *Adapter {
	return &Adapter{name: name, now: time.Now}
}

// NewWith returns an adapter serving exactly the given fixtures.
func NewWith(name domain.Source, listings []domain.IndexResult, details map[string]*domain.DetailResult) *Adapter {
	return &Adapter{name: name, now: time.Now, Listings: listings, Details: details}
}

func (a *Adapter) Name() domain.Source { return a.name }

// IndexCalls reports how many times ScanIndex ran.
func (a *Adapter) IndexCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.indexCalls
}

// DetailCalls reports how many times FetchDetail ran.
func (a *Adapter) DetailCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detailCalls
}

func (a *Adapter) ScanIndex(ctx context.Context, maxPages int) ([]domain.IndexResult, error) {
	a.mu.Lock()
	a.indexCalls++
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.IndexErr != nil {
		return nil, a.IndexErr
	}

	listings := a.Listings
	if listings == nil {
		listings = builtinListings(a.name, a.now())
	}

	// Sources copy the slice so callers can mutate results freely.
	out := make([]domain.IndexResult, len(listings))
	copy(out, listings)
	return out, nil
}

func (a *Adapter) FetchDetail(ctx context.Context, url string) (*domain.DetailResult, error) {
	a.mu.Lock()
	a.detailCalls++
	a.mu.Unlock()

	if a.DetailDelay > 0 {
		timer := time.NewTimer(a.DetailDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.DetailErr != nil {
		return nil, a.DetailErr
	}

	details := a.Details
	if details == nil {
		details = builtinDetails()
	}
	if d, ok := details[url]; ok {
		cp := *d
		return &cp, nil
	}
	// Index URLs may carry tracking params the detail table does not.
	if i := strings.IndexByte(url, '?'); i >= 0 {
		if d, ok := details[url[:i]]; ok {
			cp := *d
			return &cp, nil
		}
	}
	// Unknown URLs behave like a bare listing page rather than a 404 so
	// custom index fixtures do not all need a matching detail entry.
	return &domain.DetailResult{}, nil
}

func mockURL(id string) string {
	return "https://annonces.example/voitures/" + strings.ToLower(id)
}

// builtinListings are the demo fixtures. MOCK001 appears twice, the way the
// same listing shows up on two consecutive index pages, so a dry run always
// exercises the strict dedup. MOCK004 matches a target but carries an
// exclusion term; MOCK005 matches no target at all.
func builtinListings(name domain.Source, now time.Time) []domain.IndexResult {
	ago := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}
	intp := func(v int) *int { return &v }

	first := domain.IndexResult{
		Source:          name,
		URL:             mockURL("MOCK001") + "?utm_source=alerte&utm_medium=mail",
		SourceListingID: "MOCK001",
		Titre:           "Peugeot 207 1.6 HDi 92 Premium CT ok",
		Prix:            intp(2900),
		Kilometrage:     intp(118000),
		Annee:           intp(2011),
		Ville:           "Lyon",
		Departement:     "69",
		PublishedAt:     ago(35 * time.Minute),
		ThumbnailURL:    "https://img.example/mock001.jpg",
	}

	return []domain.IndexResult{
		first,
		{
			Source:          name,
			URL:             mockURL("MOCK002"),
			SourceListingID: "MOCK002",
			Titre:           "Renault Clio III 1.5 dCi 85 vente urgente",
			Prix:            intp(3200),
			Kilometrage:     intp(141000),
			Annee:           intp(2009),
			Ville:           "Grenoble",
			Departement:     "38",
			PublishedAt:     ago(3 * time.Hour),
			ThumbnailURL:    "https://img.example/mock002.jpg",
		},
		{
			Source:          name,
			URL:             mockURL("MOCK003"),
			SourceListingID: "MOCK003",
			Titre:           "Citroën C3 1.4 HDi 70 confort",
			Prix:            intp(2300),
			Kilometrage:     intp(155000),
			Annee:           intp(2008),
			Ville:           "Saint-Étienne",
			Departement:     "42",
			PublishedAt:     ago(20 * time.Hour),
			ThumbnailURL:    "https://img.example/mock003.jpg",
		},
		first,
		{
			Source:          name,
			URL:             mockURL("MOCK004"),
			SourceListingID: "MOCK004",
			Titre:           "Peugeot 207 CC 1.6 16v cabriolet",
			Prix:            intp(2500),
			Kilometrage:     intp(132000),
			Annee:           intp(2008),
			Ville:           "Villeurbanne",
			Departement:     "69",
			PublishedAt:     ago(2 * time.Hour),
		},
		{
			Source:          name,
			URL:             mockURL("MOCK005"),
			SourceListingID: "MOCK005",
			Titre:           "Volkswagen Golf IV 1.9 TDI 100",
			Prix:            intp(1500),
			Kilometrage:     intp(185000),
			Annee:           intp(2003),
			Ville:           "Bourg-en-Bresse",
			Departement:     "01",
			PublishedAt:     ago(45 * time.Hour),
		},
	}
}

func builtinDetails() map[string]*domain.DetailResult {
	intp := func(v int) *int { return &v }
	images := func(id string, n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = "https://img.example/" + id + "-" + string(rune('a'+i)) + ".jpg"
		}
		return out
	}

	return map[string]*domain.DetailResult{
		mockURL("MOCK001"): {
			Description: "207 1.6 HDi 92ch Premium, CT ok vierge, distribution faite à 110000 km, " +
				"clim, entretien suivi Peugeot, factures à l'appui. Vente cause double emploi.",
			ImagesURLs:   images("mock001", 6),
			SellerType:   domain.SellerParticulier,
			Carburant:    domain.FuelDiesel,
			Boite:        domain.GearboxManuelle,
			PuissanceCh:  intp(92),
			Motorisation: "1.6 hdi",
		},
		mockURL("MOCK002"): {
			Description: "Clio 3 1.5 dCi 85, courroie faite, pneus neufs, prix négociable. " +
				"Départ étranger, vente rapide souhaitée.",
			ImagesURLs:   images("mock002", 4),
			SellerType:   domain.SellerParticulier,
			Carburant:    domain.FuelDiesel,
			Boite:        domain.GearboxManuelle,
			PuissanceCh:  intp(85),
			Motorisation: "1.5 dci",
		},
		mockURL("MOCK003"): {
			Description:  "C3 1.4 HDi, ct ok, entretien régulier, quelques rayures d'usage.",
			ImagesURLs:   images("mock003", 3),
			SellerType:   domain.SellerParticulier,
			Carburant:    domain.FuelDiesel,
			Boite:        domain.GearboxManuelle,
			Motorisation: "1.4 hdi",
		},
		mockURL("MOCK004"): {
			Description: "207 CC cabriolet, toit rétractable, boite automatique.",
			ImagesURLs:  images("mock004", 5),
			SellerType:  domain.SellerProfessionnel,
			Carburant:   domain.FuelEssence,
			Boite:       domain.GearboxAutomatique,
		},
		mockURL("MOCK005"): {
			Description: "Golf IV TDI, moteur tourne bien, embrayage à prévoir.",
			ImagesURLs:  images("mock005", 2),
			SellerType:  domain.SellerParticulier,
			Carburant:   domain.FuelDiesel,
			Boite:       domain.GearboxManuelle,
		},
	}
}
