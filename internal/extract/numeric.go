package extract

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/width"
)

// foldTransformer normalizes fullwidth digits and unicode space variants
// (NBSP, thin space) that frequently appear inside scraped price fragments.
var foldTransformer = transform.Chain(
	width.Fold,
	runes.Map(func(r rune) rune {
		if unicode.Is(unicode.Zs, r) {
			return ' '
		}
		return r
	}),
)

// foldText folds unicode width and space variants to their ASCII forms.
// On a transform error the input is returned unchanged; the numeric parser
// rejects anything that remains unparseable.
func foldText(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return folded
}

// parsePrice parses a currency-formatted numeric token into a major-unit
// value. It strips currency symbols and thousands separators, accepts
// integer, one-decimal and two-decimal forms, and rejects zero, negative
// and non-finite results.
func parsePrice(token string) (float64, error) {
	s := strings.TrimSpace(foldText(token))
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, eris.New("extract: empty price token")
	}

	// European-style "1.299,95": comma is the decimal separator when it is
	// followed by exactly two digits at the end.
	if i := strings.LastIndex(s, ","); i >= 0 && len(s)-i == 3 && !strings.Contains(s[i:], ".") {
		s = strings.ReplaceAll(s[:i], ".", "") + "." + s[i+1:]
	}
	s = strings.ReplaceAll(s, ",", "")

	if dot := strings.Index(s, "."); dot >= 0 {
		frac := s[dot+1:]
		if len(frac) == 0 || len(frac) > 2 {
			return 0, eris.Errorf("extract: malformed fraction in %q", token)
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "extract: parse %q", token)
	}
	if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, eris.Errorf("extract: non-positive price %q", token)
	}
	return v, nil
}

// normalizeMinorUnits divides a value by 100 when the platform is known to
// encode prices in minor units and the raw value exceeds the threshold.
// The conversion is all-or-nothing for a candidate.
func normalizeMinorUnits(v float64, threshold float64, minorUnitPlatform bool) float64 {
	if minorUnitPlatform && threshold > 0 && v > threshold {
		return v / 100
	}
	return v
}
