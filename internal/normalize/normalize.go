// Package normalize turns the raw strings scraped from listing pages into
// typed values. Every function is pure; "don't know" is a nil pointer or
// an UNKNOWN enum value, never a guess.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vigiauto/vigiauto/internal/domain"
)

var (
	pricePattern  = regexp.MustCompile(`(\d[\d\s\x{202f}\x{00a0}.,]*)\s*€`)
	kmPattern     = regexp.MustCompile(`(?i)(\d[\d\s\x{202f}\x{00a0}.,]*)\s*km`)
	yearPattern   = regexp.MustCompile(`\b(19[89]\d|20[0-3]\d)\b`)
	postalPattern = regexp.MustCompile(`\b(\d{5})\b`)
	parenPattern  = regexp.MustCompile(`(?i)\((\d{2}|2a|2b)\)`)
	phonePattern  = regexp.MustCompile(`(?:0|\+33)[1-9](?:[\s.-]?\d{2}){4}`)
	powerPattern  = regexp.MustCompile(`(?i)(\d{2,3})\s*(?:ch|cv|hp)`)
	nonDigits     = regexp.MustCompile(`[^\d]`)
	spaceRun      = regexp.MustCompile(`\s+`)

	titleCaser = cases.Title(language.French)
)

// Text lowercases and collapses whitespace. Accents are kept; use
// domain.FoldAccents when accent-insensitive comparison is needed.
func Text(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return spaceRun.ReplaceAllString(s, " ")
}

// Price extracts a price in euros. Handles "2 500 €", "2.500€", NBSP and
// narrow-NBSP grouping, and falls back to a bare digit group when no euro
// sign is present. Values outside the plausible used-car range are nil.
func Price(text string) *int {
	if text == "" {
		return nil
	}

	m := pricePattern.FindStringSubmatch(text)
	if m == nil {
		cleaned := nonDigits.ReplaceAllString(text, "")
		if v, err := strconv.Atoi(cleaned); err == nil && v >= 500 && v <= 100000 {
			return &v
		}
		return nil
	}

	digits := nonDigits.ReplaceAllString(m[1], "")
	v, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	if v < 100 || v > 100000 {
		return nil
	}
	return &v
}

// Km extracts a mileage ("150 000 km", "150000km"). Range [100, 500000].
func Km(text string) *int {
	if text == "" {
		return nil
	}
	m := kmPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	digits := nonDigits.ReplaceAllString(m[1], "")
	v, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	if v < 100 || v > 500000 {
		return nil
	}
	return &v
}

// Year extracts the most recent plausible model year mentioned in the
// text, so "2008-2012" resolves to 2012.
func Year(text string) *int {
	if text == "" {
		return nil
	}
	matches := yearPattern.FindAllString(text, -1)
	if matches == nil {
		return nil
	}
	maxYear := time.Now().Year() + 1
	best := 0
	for _, m := range matches {
		y, err := strconv.Atoi(m)
		if err != nil || y < 1990 || y > maxYear {
			continue
		}
		if y > best {
			best = y
		}
	}
	if best == 0 {
		return nil
	}
	return &best
}

// Departement extracts the two-character French department code, from a
// postal code first ("35000" -> "35") and a parenthesised code otherwise
// ("(44)" -> "44"). Corsican postal codes map to 2A/2B.
func Departement(text string) *string {
	if text == "" {
		return nil
	}
	if m := postalPattern.FindStringSubmatch(text); m != nil {
		d := departementFromPostal(m[1])
		return &d
	}
	if m := parenPattern.FindStringSubmatch(text); m != nil {
		d := strings.ToUpper(m[1])
		return &d
	}
	return nil
}

func departementFromPostal(cp string) string {
	if strings.HasPrefix(cp, "20") {
		// Corse-du-Sud keeps the 200xx/201xx prefixes, Haute-Corse the rest.
		if cp[2] == '0' || cp[2] == '1' {
			return "2A"
		}
		return "2B"
	}
	return cp[:2]
}

// CodePostal extracts the first 5-digit postal code.
func CodePostal(text string) *string {
	if text == "" {
		return nil
	}
	if m := postalPattern.FindStringSubmatch(text); m != nil {
		return &m[1]
	}
	return nil
}

// Puissance extracts an engine power in metric horsepower ("70ch",
// "110 cv"). Range [40, 500].
func Puissance(text string) *int {
	if text == "" {
		return nil
	}
	m := powerPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v < 40 || v > 500 {
		return nil
	}
	return &v
}

// Phone extracts a French phone number and strips separators.
func Phone(text string) *string {
	if text == "" {
		return nil
	}
	m := phonePattern.FindString(text)
	if m == "" {
		return nil
	}
	cleaned := strings.NewReplacer(" ", "", ".", "", "-", "").Replace(m)
	return &cleaned
}

var (
	dieselHints     = []string{"diesel", "gazole", "hdi", "dci", "tdi", "cdti", "jtd", "d-4d", "dti"}
	essenceHints    = []string{"essence", "sp95", "sp98", "sans plomb", "vti", "vvt", "tfsi"}
	hybrideHints    = []string{"hybride", "hybrid"}
	electriqueHints = []string{"électrique", "electrique", "ev", "electric"}
	gplHints        = []string{"gpl", "lpg"}
)

// Carburant detects the fuel kind from free text ("1.4 HDi 70ch" is
// diesel). UNKNOWN when no hint matches.
func Carburant(text string) domain.Fuel {
	if text == "" {
		return domain.FuelUnknown
	}
	t := strings.ToLower(strings.TrimSpace(text))
	for _, h := range dieselHints {
		if strings.Contains(t, h) {
			return domain.FuelDiesel
		}
	}
	for _, h := range essenceHints {
		if strings.Contains(t, h) {
			return domain.FuelEssence
		}
	}
	for _, h := range hybrideHints {
		if strings.Contains(t, h) {
			return domain.FuelHybride
		}
	}
	for _, h := range electriqueHints {
		if strings.Contains(t, h) {
			return domain.FuelElectrique
		}
	}
	for _, h := range gplHints {
		if strings.Contains(t, h) {
			return domain.FuelGPL
		}
	}
	return domain.FuelUnknown
}

// Boite detects the gearbox kind. Manual hints win over automatic ones so
// "boîte manuelle automatisée" stays manual.
func Boite(text string) domain.Gearbox {
	if text == "" {
		return domain.GearboxUnknown
	}
	t := strings.ToLower(strings.TrimSpace(text))
	for _, h := range []string{"manuel", "manuelle", "mécanique"} {
		if strings.Contains(t, h) {
			return domain.GearboxManuelle
		}
	}
	for _, h := range []string{"auto", "automatique", "bva", "dsg", "dct"} {
		if strings.Contains(t, h) {
			return domain.GearboxAutomatique
		}
	}
	return domain.GearboxUnknown
}

var (
	proHints         = []string{"professionnel", "pro", "garage", "concessionnaire", "marchand", "négociant", "société", "sarl", "sas", "eurl"}
	particulierHints = []string{"particulier", "privé", "private", "owner"}
)

// SellerType classifies the seller from free text. Dealer hints are
// checked first: listings often carry both words and the dealer ones are
// the reliable signal.
func SellerType(text string) domain.SellerType {
	if text == "" {
		return domain.SellerUnknown
	}
	t := strings.ToLower(text)
	for _, h := range proHints {
		if strings.Contains(t, h) {
			return domain.SellerProfessionnel
		}
	}
	for _, h := range particulierHints {
		if strings.Contains(t, h) {
			return domain.SellerParticulier
		}
	}
	return domain.SellerUnknown
}
