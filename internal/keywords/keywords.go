// Package keywords matches configured opportunity/risk/exclusion keyword
// sets against listing text. Matching is accent-folded and word-bounded:
// "turbocompresseur" must not fire a "turbo" keyword, "Négociable" must
// fire "negociable".
package keywords

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vigiauto/vigiauto/internal/domain"
)

// Category separates scoring keywords from hard filters.
type Category string

const (
	CategoryOpportunite Category = "opportunite"
	CategoryRisque      Category = "risque"
)

// Definition is one configured keyword: an id, the patterns that fire it
// and what firing contributes to the score.
type Definition struct {
	ID           string
	Category     Category
	Patterns     []string
	Bonus        int
	Penalty      int
	CostEstimate int
	Severity     domain.Severity
	Description  string
}

// Result is the outcome of one matcher pass over a text.
type Result struct {
	BonusTotal      int
	PenaltyTotal    int
	CostEstimate    int
	Opportunities   []string
	Risks           []string
	MaxSeverity     domain.Severity
	Excluded        bool
	ExclusionReason string
}

type compiledKeyword struct {
	def      Definition
	patterns []*regexp.Regexp
}

// Matcher holds the compiled keyword sets. Build once, use from any
// goroutine; compiled regexps are safe for concurrent use.
type Matcher struct {
	opportunites []compiledKeyword
	risques      []compiledKeyword
	exclusions   []*regexp.Regexp
}

var (
	nonWordRun  = regexp.MustCompile(`[^\w\s]`)
	spaceRun    = regexp.MustCompile(`\s+`)
	punctFolder = strings.NewReplacer("'", " ", "-", " ", ":", " ", "/", " ")
)

// Normalize prepares text for matching: lowercase, accents folded,
// separator punctuation spaced out, whitespace collapsed.
// "CT: OK" -> "ct ok", "prix-à-débattre" -> "prix a debattre".
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = domain.FoldAccents(strings.ToLower(text))
	text = punctFolder.Replace(text)
	text = nonWordRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
}

const regexMeta = `\.*+?[](){}|^$`

// buildPattern turns one configured pattern into a compiled regexp.
// Plain words are quoted, anything already containing regex syntax is
// taken verbatim; both get word-boundary anchors unless they anchor
// themselves.
func buildPattern(raw string) (*regexp.Regexp, error) {
	normalized := domain.FoldAccents(strings.ToLower(raw))

	if !strings.ContainsAny(raw, regexMeta) {
		normalized = regexp.QuoteMeta(normalized)
	}

	if !strings.HasPrefix(normalized, `\b`) && !strings.HasPrefix(normalized, "^") {
		normalized = `\b` + normalized
	}
	if !strings.HasSuffix(normalized, `\b`) && !strings.HasSuffix(normalized, "$") {
		normalized = normalized + `\b`
	}

	return regexp.Compile(`(?i)` + normalized)
}

func compileDefinition(def Definition) compiledKeyword {
	ck := compiledKeyword{def: def}
	for _, raw := range def.Patterns {
		re, err := buildPattern(raw)
		if err != nil {
			log.Warn().Str("keyword", def.ID).Str("pattern", raw).Err(err).
				Msg("invalid keyword pattern, skipping")
			continue
		}
		ck.patterns = append(ck.patterns, re)
	}
	return ck
}

// NewMatcher compiles the keyword definitions plus the exclusion
// patterns. Invalid patterns are logged and skipped so one typo in the
// config does not take the whole matcher down. Built-in keyword sets are
// appended for any default id the config does not override.
func NewMatcher(defs []Definition, exclusionPatterns []string) *Matcher {
	m := &Matcher{}

	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		seen[def.ID] = true
		ck := compileDefinition(def)
		if len(ck.patterns) == 0 {
			continue
		}
		switch def.Category {
		case CategoryRisque:
			m.risques = append(m.risques, ck)
		default:
			m.opportunites = append(m.opportunites, ck)
		}
	}

	for _, def := range builtinDefinitions() {
		if seen[def.ID] {
			continue
		}
		ck := compileDefinition(def)
		if def.Category == CategoryRisque {
			m.risques = append(m.risques, ck)
		} else {
			m.opportunites = append(m.opportunites, ck)
		}
	}

	for _, raw := range exclusionPatterns {
		re, err := buildPattern(raw)
		if err != nil {
			log.Warn().Str("pattern", raw).Err(err).Msg("invalid exclusion pattern, skipping")
			continue
		}
		m.exclusions = append(m.exclusions, re)
	}

	return m
}

// Match runs one pass over the text. Exclusions outrank everything and
// return immediately; otherwise every keyword fires at most once (first
// matching pattern wins) and contributes its bonus or penalty.
func (m *Matcher) Match(text string) Result {
	res := Result{}
	if text == "" {
		return res
	}

	normalized := Normalize(text)

	for _, re := range m.exclusions {
		if hit := re.FindString(normalized); hit != "" {
			res.Excluded = true
			res.ExclusionReason = "Exclusion: " + hit
			return res
		}
	}

	for _, kw := range m.opportunites {
		for _, re := range kw.patterns {
			if re.MatchString(normalized) {
				res.BonusTotal += kw.def.Bonus
				res.Opportunities = append(res.Opportunities, kw.def.ID)
				break
			}
		}
	}

	for _, kw := range m.risques {
		for _, re := range kw.patterns {
			if re.MatchString(normalized) {
				res.PenaltyTotal += kw.def.Penalty
				res.CostEstimate += kw.def.CostEstimate
				res.Risks = append(res.Risks, kw.def.ID)
				res.MaxSeverity = domain.MaxSeverity(res.MaxSeverity, kw.def.Severity)
				break
			}
		}
	}

	return res
}

// IsExcluded runs only the exclusion patterns.
func (m *Matcher) IsExcluded(text string) (bool, string) {
	if text == "" {
		return false, ""
	}
	normalized := Normalize(text)
	for _, re := range m.exclusions {
		if hit := re.FindString(normalized); hit != "" {
			return true, "Exclusion: " + hit
		}
	}
	return false, ""
}
