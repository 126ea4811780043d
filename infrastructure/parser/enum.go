package parser

import (
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-warden/internal/domain"
)

// maxEnumDistance bounds how far a misspelled enum value may be from a known
// one and still be accepted.
const maxEnumDistance = 2

var folder = cases.Fold()

// complianceAliases maps folded spellings onto decisions. Arabic labels are
// accepted because models sometimes answer the status field in the clause
// language.
var complianceAliases = map[string]domain.Compliance{
	"compliant":     domain.Compliant,
	"non-compliant": domain.NonCompliant,
	"noncompliant":  domain.NonCompliant,
	"not-compliant": domain.NonCompliant,
	"indecisive":    domain.Indecisive,
	"inconclusive":  domain.Indecisive,
	"undetermined":  domain.Indecisive,
	"ملتزم":         domain.Compliant,
	"متوافق":        domain.Compliant,
	"غير-ملتزم":     domain.NonCompliant,
	"غير-متوافق":    domain.NonCompliant,
	"غير-حاسم":      domain.Indecisive,
}

// aliasOrder fixes the iteration order of the fuzzy match so ties resolve
// the same way on every run.
var aliasOrder = slices.Sorted(maps.Keys(complianceAliases))

// negationPrefixes lists hyphenated forms before their bare stems.
var negationPrefixes = []string{"غير-", "not-", "non-", "not", "non", "in", "un"}

// NormalizeCompliance maps a model-supplied status onto the closed set.
// Matching is case-insensitive and treats spaces and underscores as hyphens.
// Near misses within a small edit distance are accepted only when they keep
// the polarity of the alias they resemble, and never resolve to COMPLIANT:
// a misspelled pass goes to review. Anything else yields fallback and
// ok=false.
func NormalizeCompliance(value string, fallback domain.Compliance) (domain.Compliance, bool) {
	key := normalizeKey(value)
	if key == "" {
		return fallback, false
	}
	if c, ok := complianceAliases[key]; ok {
		return c, true
	}

	keyLen := utf8.RuneCountInString(key)
	best, bestAlias, bestDist := domain.Compliance(""), "", maxEnumDistance+1
	for _, alias := range aliasOrder {
		if diff := keyLen - utf8.RuneCountInString(alias); diff < -1 || diff > 1 {
			continue
		}
		if d := levenshtein.ComputeDistance(key, alias); d < bestDist {
			best, bestAlias, bestDist = complianceAliases[alias], alias, d
		}
	}
	if bestDist > maxEnumDistance || best == domain.Compliant {
		return fallback, false
	}
	if negationPrefix(key) != negationPrefix(bestAlias) {
		return fallback, false
	}
	return best, true
}

func negationPrefix(s string) string {
	for _, p := range negationPrefixes {
		if strings.HasPrefix(s, p) {
			return strings.TrimSuffix(p, "-")
		}
	}
	return ""
}

func normalizeKey(s string) string {
	s = folder.String(strings.TrimSpace(s))
	s = strings.Trim(s, `"'.`)
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}), "-")
}
