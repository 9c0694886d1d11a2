package normalize

import (
	"regexp"
	"strings"

	"github.com/vigiauto/vigiauto/internal/domain"
)

// Makes recognised directly in titles, most specific spellings first.
var knownMarques = []string{
	"Peugeot", "Renault", "Citroën", "Citroen", "Dacia", "Ford",
	"Volkswagen", "VW", "Toyota", "Opel", "Fiat", "Nissan",
	"Hyundai", "Kia", "Seat", "Skoda", "BMW", "Mercedes", "Audi",
}

// Closed mapping from well-known models to their make, used when a title
// starts with the model ("207 1.4 HDi 70ch").
var modeleToMarque = map[string]string{
	// Peugeot
	"106": "Peugeot", "107": "Peugeot", "108": "Peugeot",
	"206": "Peugeot", "207": "Peugeot", "208": "Peugeot",
	"306": "Peugeot", "307": "Peugeot", "308": "Peugeot",
	"406": "Peugeot", "407": "Peugeot", "408": "Peugeot",
	"2008": "Peugeot", "3008": "Peugeot", "5008": "Peugeot",
	"Partner": "Peugeot", "Expert": "Peugeot",
	// Renault
	"Clio": "Renault", "Megane": "Renault", "Twingo": "Renault",
	"Scenic": "Renault", "Captur": "Renault", "Kadjar": "Renault",
	"Laguna": "Renault", "Kangoo": "Renault", "Trafic": "Renault",
	// Citroën
	"C1": "Citroën", "C2": "Citroën", "C3": "Citroën",
	"C4": "Citroën", "C5": "Citroën", "C6": "Citroën",
	"Berlingo": "Citroën", "Picasso": "Citroën", "Saxo": "Citroën",
	// Dacia
	"Sandero": "Dacia", "Logan": "Dacia", "Duster": "Dacia",
	"Stepway": "Dacia", "Dokker": "Dacia", "Lodgy": "Dacia",
	// Ford
	"Fiesta": "Ford", "Focus": "Ford", "Ka": "Ford",
	"Mondeo": "Ford", "Kuga": "Ford", "C-Max": "Ford",
	// Volkswagen
	"Polo": "Volkswagen", "Golf": "Volkswagen", "Passat": "Volkswagen",
	"Tiguan": "Volkswagen", "Touran": "Volkswagen", "Caddy": "Volkswagen",
	// Toyota
	"Yaris": "Toyota", "Aygo": "Toyota", "Corolla": "Toyota",
	"Auris": "Toyota", "RAV4": "Toyota", "C-HR": "Toyota",
	// Opel
	"Corsa": "Opel", "Astra": "Opel", "Meriva": "Opel",
	"Mokka": "Opel", "Zafira": "Opel", "Insignia": "Opel",
	// Fiat
	"Punto": "Fiat", "Panda": "Fiat", "500": "Fiat",
	"Tipo": "Fiat", "Doblo": "Fiat", "Bravo": "Fiat",
}

var marqueCorrections = map[string][]string{
	"Volkswagen":    {"Vw", "Volks"},
	"Mercedes-Benz": {"Mercedes", "Mb"},
	"Alfa Romeo":    {"Alfa"},
	"Citroën":       {"Citroen"},
}

var (
	modeleEnginePattern = regexp.MustCompile(`(?i)\d+\.\d+\s*(hdi|dci|tdi|vti|tce|dti|cdti|jtd).*`)
	modelePowerPattern  = regexp.MustCompile(`(?i)\d+\s*(ch|cv).*`)
	wordCleanPattern    = regexp.MustCompile(`[^a-zA-Z0-9]`)

	motorisationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+\.\d+)\s*(hdi|dci|tdi|vti|tce|dti|cdti|jtd|d-4d|bluehdi|blue\s*hdi)`),
		regexp.MustCompile(`(?i)(\d+\.\d+)\s*(l|litres?)?`),
		regexp.MustCompile(`(?i)(\d{2,3})\s*(ch|cv|hp)`),
	}
)

// Marque normalizes a make name: title case plus the usual spelling
// corrections (vw -> Volkswagen, citroen -> Citroën).
func Marque(marque string) string {
	marque = strings.TrimSpace(marque)
	if marque == "" {
		return ""
	}
	marque = titleCaser.String(marque)

	cleaned := domain.NormalizeKey(marque)
	for correct, variants := range marqueCorrections {
		for _, v := range variants {
			if domain.NormalizeKey(v) == cleaned {
				return correct
			}
		}
	}
	return marque
}

// Modele normalizes a model name, dropping trailing engine or power
// qualifiers ("Clio 1.5 dCi" -> "Clio").
func Modele(modele string) string {
	modele = strings.TrimSpace(modele)
	if modele == "" {
		return ""
	}
	modele = modeleEnginePattern.ReplaceAllString(modele, "")
	modele = modelePowerPattern.ReplaceAllString(modele, "")
	return titleCaser.String(strings.TrimSpace(modele))
}

// Title splits a listing title into (make, model, version). Known makes
// are recognised first; titles that start with a bare model ("207 1.4 HDi
// 70ch") get their make inferred from the closed model mapping. Whatever
// remains is the version string.
func Title(titre string) (string, string, string) {
	titre = strings.TrimSpace(titre)
	if titre == "" {
		return "", "", ""
	}

	marque := ""
	version := titre

	titreLower := strings.ToLower(titre)
	for _, m := range knownMarques {
		if idx := strings.Index(titreLower, strings.ToLower(m)); idx >= 0 {
			marque = m
			version = strings.TrimSpace(version[:idx] + version[idx+len(m):])
			break
		}
	}

	modele := ""
	words := strings.Fields(version)
	if len(words) > 0 {
		limit := len(words)
		if limit > 3 {
			limit = 3
		}
	scan:
		for _, word := range words[:limit] {
			wordClean := wordCleanPattern.ReplaceAllString(word, "")
			for known := range modeleToMarque {
				if strings.EqualFold(wordClean, known) {
					modele = known
					version = joinExcluding(words, word)
					break scan
				}
			}
		}
		if modele == "" {
			modele = words[0]
			version = strings.Join(words[1:], " ")
		}
	}

	if modele != "" && marque == "" {
		for known, m := range modeleToMarque {
			if strings.EqualFold(modele, known) {
				marque = m
				break
			}
		}
	}

	return Marque(marque), Modele(modele), strings.TrimSpace(version)
}

// Motorisation extracts the engine label ("1.4 HDi", "1.5 dCi 85ch").
func Motorisation(text string) string {
	if text == "" {
		return ""
	}
	for _, p := range motorisationPatterns {
		if m := p.FindString(text); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

func joinExcluding(words []string, drop string) string {
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if w != drop {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
