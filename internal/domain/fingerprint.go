package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const softKmBucket = 50000

// Fingerprint derives the strict dedup key: 32 hex characters, stable
// across re-scrapes of the same listing. When the site exposes a native
// listing id the key is source-scoped to that id; otherwise it falls back
// to the identifying vehicle fields.
func Fingerprint(a *Annonce) string {
	if a.SourceListingID != "" {
		return hashHex(string(a.Source)+":"+a.SourceListingID, 32)
	}
	titre := NormalizeKey(a.Titre)
	if len(titre) > 50 {
		titre = titre[:50]
	}
	parts := []string{
		string(a.Source),
		NormalizeKey(a.Marque),
		NormalizeKey(a.Modele),
		fmt.Sprintf("%d", intOrZero(a.Annee)),
		fmt.Sprintf("%d", intOrZero(a.Kilometrage)),
		fmt.Sprintf("%d", intOrZero(a.Prix)),
		a.Departement,
		titre,
	}
	return hashHex(strings.Join(parts, "|"), 32)
}

// SoftFingerprint derives the near-duplicate key: 16 hex characters with
// mileage bucketed to 50 000 km so the same car relisted with a slightly
// different odometer reading still collides.
func SoftFingerprint(a *Annonce) string {
	parts := []string{
		NormalizeKey(a.Marque),
		NormalizeKey(a.Modele),
		fmt.Sprintf("%d", intOrZero(a.Annee)),
		fmt.Sprintf("%d", intOrZero(a.Kilometrage)/softKmBucket),
		a.Departement,
	}
	return hashHex(strings.Join(parts, "|"), 16)
}

func hashHex(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
