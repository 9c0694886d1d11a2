package domain

// Source identifies a listing marketplace.
type Source string

const (
	SourceLeboncoin   Source = "leboncoin"
	SourceAutoScout24 Source = "autoscout24"
	SourceLaCentrale  Source = "lacentrale"
	SourceParuVendu   Source = "paruvendu"
	SourceMarketplace Source = "marketplace"
)

// KnownSources lists every source the pipeline can be asked to scan.
var KnownSources = []Source{
	SourceLeboncoin,
	SourceAutoScout24,
	SourceLaCentrale,
	SourceParuVendu,
	SourceMarketplace,
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	for _, k := range KnownSources {
		if s == k {
			return true
		}
	}
	return false
}

func (s Source) String() string { return string(s) }

// SellerType distinguishes private sellers from dealers.
type SellerType string

const (
	SellerParticulier   SellerType = "particulier"
	SellerProfessionnel SellerType = "professionnel"
	SellerUnknown       SellerType = "unknown"
)

// AlertLevel is the discrete severity tier derived from the total score.
type AlertLevel string

const (
	AlertUrgent      AlertLevel = "urgent"      // score >= 80
	AlertInteressant AlertLevel = "interessant" // score >= 60
	AlertSurveiller  AlertLevel = "surveiller"  // score >= 40
	AlertArchive     AlertLevel = "archive"     // below 40
)

// AlertLevelForScore maps a total score to its alert level.
func AlertLevelForScore(score int) AlertLevel {
	switch {
	case score >= 80:
		return AlertUrgent
	case score >= 60:
		return AlertInteressant
	case score >= 40:
		return AlertSurveiller
	default:
		return AlertArchive
	}
}

// Emoji returns the marker used in notification titles.
func (l AlertLevel) Emoji() string {
	switch l {
	case AlertUrgent:
		return "🚨"
	case AlertInteressant:
		return "⭐"
	case AlertSurveiller:
		return "👀"
	default:
		return "📁"
	}
}

// Status tracks the operator-facing lifecycle of a listing.
type Status string

const (
	StatusNouveau  Status = "nouveau"
	StatusContacte Status = "contacte"
	StatusEnCours  Status = "en_cours"
	StatusAchete   Status = "achete"
	StatusExpire   Status = "expire"
	StatusIgnore   Status = "ignore"
	StatusExclue   Status = "exclue"
)

// Fuel is the engine fuel kind, UNKNOWN when the listing does not say.
type Fuel string

const (
	FuelDiesel     Fuel = "diesel"
	FuelEssence    Fuel = "essence"
	FuelHybride    Fuel = "hybride"
	FuelElectrique Fuel = "electrique"
	FuelGPL        Fuel = "gpl"
	FuelUnknown    Fuel = "unknown"
)

// Gearbox is the transmission kind.
type Gearbox string

const (
	GearboxManuelle    Gearbox = "manuelle"
	GearboxAutomatique Gearbox = "automatique"
	GearboxUnknown     Gearbox = "unknown"
)

// Severity ranks keyword risks. Critical risks gate promotion to urgent.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so the maximum across fired risks can be kept.
func (s Severity) Rank() int {
	switch s {
	case SeverityMinor:
		return 1
	case SeverityModerate:
		return 2
	case SeverityMajor:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity maps a config string to a severity. Legacy low/medium/high
// values from older keyword files are accepted; anything unknown falls back
// to moderate.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityMinor, SeverityModerate, SeverityMajor, SeverityCritical:
		return Severity(s)
	}
	switch s {
	case "low":
		return SeverityMinor
	case "medium":
		return SeverityModerate
	case "high":
		return SeverityMajor
	}
	return SeverityModerate
}
