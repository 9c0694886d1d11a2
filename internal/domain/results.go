package domain

import "time"

// IndexResult is the payload one list-page scan yields per listing.
// Adapters fill what the index page exposes; everything else stays nil
// until the detail phase.
type IndexResult struct {
	Source          Source     `json:"source"`
	URL             string     `json:"url"`
	SourceListingID string     `json:"source_listing_id,omitempty"`
	Titre           string     `json:"titre"`
	Prix            *int       `json:"prix,omitempty"`
	Kilometrage     *int       `json:"kilometrage,omitempty"`
	Annee           *int       `json:"annee,omitempty"`
	Ville           string     `json:"ville,omitempty"`
	Departement     string     `json:"departement,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	ThumbnailURL    string     `json:"thumbnail_url,omitempty"`

	// Hints already parsed by the adapter, may be empty.
	Marque    string `json:"marque,omitempty"`
	Modele    string `json:"modele,omitempty"`
	Version   string `json:"version,omitempty"`
	Carburant Fuel   `json:"carburant,omitempty"`

	// Filled by the pipeline's light-scoring pass; adapters leave them zero.
	ScoreLight int `json:"score_light,omitempty"`
	Priority   int `json:"priority,omitempty"`
}

// DetailResult is the payload a detail-page fetch yields. Nil fields mean
// the page did not expose the value; merging never erases index data with
// an empty detail field.
type DetailResult struct {
	Description  string     `json:"description,omitempty"`
	ImagesURLs   []string   `json:"images_urls,omitempty"`
	SellerType   SellerType `json:"seller_type,omitempty"`
	SellerName   string     `json:"seller_name,omitempty"`
	SellerPhone  string     `json:"seller_phone,omitempty"`
	Carburant    Fuel       `json:"carburant,omitempty"`
	Boite        Gearbox    `json:"boite,omitempty"`
	PuissanceCh  *int       `json:"puissance_ch,omitempty"`
	Version      string     `json:"version,omitempty"`
	Motorisation string     `json:"motorisation,omitempty"`
	CTInfo       string     `json:"ct_info,omitempty"`
}
