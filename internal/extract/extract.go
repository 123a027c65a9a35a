// Package extract infers a single best supplier price from uncontrolled
// e-commerce HTML. Six independent heuristics run in fixed priority order;
// every candidate they produce is scored with a configurable confidence
// weight and the highest-confidence candidate wins, ties broken by the
// larger value (tied high-confidence candidates are usually a sale/regular
// price pair, and the non-discounted price is the safer baseline).
package extract

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricesync/internal/config"
	"github.com/sells-group/pricesync/internal/model"
)

// Extractor resolves a best price candidate from raw HTML. It is pure and
// performs no I/O; identical input always produces identical output.
type Extractor struct {
	cfg      config.ExtractConfig
	patterns *PatternSet
	minor    map[string]bool
}

// New creates an Extractor from configuration, loading the optional pattern
// override file.
func New(cfg config.ExtractConfig) (*Extractor, error) {
	patterns := DefaultPatterns()
	if cfg.PatternsFile != "" {
		var err error
		patterns, err = LoadPatterns(cfg.PatternsFile)
		if err != nil {
			return nil, eris.Wrap(err, "extract: load patterns")
		}
	}

	minor := make(map[string]bool, len(cfg.MinorUnitPlatforms))
	for _, p := range cfg.MinorUnitPlatforms {
		minor[strings.ToLower(p)] = true
	}

	return &Extractor{cfg: cfg, patterns: patterns, minor: minor}, nil
}

var (
	metaPriceRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<meta[^>]+(?:property|name)\s*=\s*["'](?:og:price:amount|product:price:amount)["'][^>]*content\s*=\s*["']([^"']+)["']`),
		regexp.MustCompile(`(?i)<meta[^>]+content\s*=\s*["']([^"']+)["'][^>]*(?:property|name)\s*=\s*["'](?:og:price:amount|product:price:amount)["']`),
		regexp.MustCompile(`(?i)<meta[^>]+itemprop\s*=\s*["']price["'][^>]*content\s*=\s*["']([^"']+)["']`),
	}

	platformMetaRe = regexp.MustCompile(`(?s)var\s+meta\s*=\s*(\{.*?\})\s*;`)
	jsonPriceRe    = regexp.MustCompile(`"price"\s*:\s*"?(\d+(?:\.\d{1,2})?)"?`)

	ldJSONRe = regexp.MustCompile(`(?is)<script[^>]*type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)

	// Currency-prefixed or bare two-decimal numeric tokens. The integer
	// part accepts comma-grouped and unseparated forms; real product pages
	// use both ($1,299.95 and $1299.95).
	currencyTokenRe = regexp.MustCompile(`[$€£]\s*(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?|(?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2}`)
)

// Extract runs every heuristic over the document and returns the selected
// candidate, or false when no heuristic produced one. It never errors on
// malformed input.
func (e *Extractor) Extract(html, sourceURL string) (*model.PriceCandidate, bool) {
	minorUnits := e.minor[detectPlatform(html, sourceURL)]

	var candidates []model.PriceCandidate
	candidates = append(candidates, e.structuredMeta(html)...)
	candidates = append(candidates, e.platformMeta(html, minorUnits)...)
	candidates = append(candidates, e.linkedData(html)...)
	candidates = append(candidates, e.visibleElement(html)...)
	candidates = append(candidates, e.inlineScript(html, minorUnits)...)
	candidates = append(candidates, e.frequencyFallback(html)...)

	if len(candidates) == 0 {
		return nil, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence > best.Confidence ||
			(c.Confidence == best.Confidence && c.Value > best.Value) {
			best = c
		}
	}
	return &best, true
}

// detectPlatform identifies the hosting e-commerce platform from URL and
// document markers. Only platforms that encode minor units matter here.
func detectPlatform(html, sourceURL string) string {
	if u, err := url.Parse(sourceURL); err == nil {
		if strings.HasSuffix(u.Hostname(), ".myshopify.com") {
			return "shopify"
		}
	}
	if strings.Contains(html, "cdn.shopify.com") ||
		strings.Contains(html, "Shopify.theme") ||
		strings.Contains(html, "ShopifyAnalytics") {
		return "shopify"
	}
	if strings.Contains(html, "woocommerce") {
		return "woocommerce"
	}
	return ""
}

// structuredMeta matches commerce price metadata tags (og:price:amount and
// friends). Highest confidence: the merchant declared the price explicitly.
func (e *Extractor) structuredMeta(html string) []model.PriceCandidate {
	var out []model.PriceCandidate
	for _, re := range metaPriceRes {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			v, err := parsePrice(m[1])
			if err != nil {
				continue
			}
			out = append(out, model.PriceCandidate{
				Value:      v,
				Source:     model.SourceStructuredMeta,
				Confidence: e.cfg.StructuredMetaWeight,
			})
		}
	}
	return out
}

// platformMeta parses platform-embedded JSON product metadata, e.g. the
// `var meta = {...}` block Shopify themes emit. Prices there are commonly
// minor units, so the normalization rule applies.
func (e *Extractor) platformMeta(html string, minorUnits bool) []model.PriceCandidate {
	m := platformMetaRe.FindStringSubmatch(html)
	if m == nil {
		return nil
	}
	block := m[1]

	values := jsonMetaPrices(block)
	if len(values) == 0 {
		// Not strict JSON; fall back to scanning the block for price keys.
		for _, pm := range jsonPriceRe.FindAllStringSubmatch(block, -1) {
			v, err := parsePrice(pm[1])
			if err != nil {
				continue
			}
			values = append(values, v)
		}
	}

	var out []model.PriceCandidate
	for _, v := range values {
		out = append(out, model.PriceCandidate{
			Value:      normalizeMinorUnits(v, e.cfg.MinorUnitThreshold, minorUnits),
			Source:     model.SourcePlatformMeta,
			Confidence: e.cfg.PlatformMetaWeight,
		})
	}
	return out
}

// jsonMetaPrices decodes a JSON object and collects all numeric values under
// "price" keys, recursively.
func jsonMetaPrices(block string) []float64 {
	var doc any
	if err := json.Unmarshal([]byte(block), &doc); err != nil {
		return nil
	}
	var values []float64
	collectPriceKeys(doc, []string{"price"}, &values)
	return values
}

// linkedData parses application/ld+json blocks and collects product/offer
// price fields.
func (e *Extractor) linkedData(html string) []model.PriceCandidate {
	var out []model.PriceCandidate
	for _, m := range ldJSONRe.FindAllStringSubmatch(html, -1) {
		var doc any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &doc); err != nil {
			continue
		}
		var values []float64
		collectPriceKeys(doc, []string{"price", "lowPrice", "highPrice"}, &values)
		for _, v := range values {
			out = append(out, model.PriceCandidate{
				Value:      v,
				Source:     model.SourceLinkedData,
				Confidence: e.cfg.LinkedDataWeight,
			})
		}
	}
	return out
}

// collectPriceKeys walks decoded JSON and appends parseable values found
// under the given keys.
func collectPriceKeys(node any, keys []string, out *[]float64) {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			for _, key := range keys {
				if k != key {
					continue
				}
				switch pv := v.(type) {
				case float64:
					if pv > 0 {
						*out = append(*out, pv)
					}
				case string:
					if parsed, err := parsePrice(pv); err == nil {
						*out = append(*out, parsed)
					}
				}
			}
			collectPriceKeys(v, keys, out)
		}
	case []any:
		for _, v := range n {
			collectPriceKeys(v, keys, out)
		}
	}
}

// visibleElement tries each anchor pattern in priority order and takes the
// first currency-formatted token inside the first matching fragment.
func (e *Extractor) visibleElement(html string) []model.PriceCandidate {
	for _, re := range e.patterns.anchorRes {
		m := re.FindStringSubmatch(html)
		if m == nil || len(m) < 2 {
			continue
		}
		token := currencyTokenRe.FindString(foldText(m[1]))
		if token == "" {
			continue
		}
		v, err := parsePrice(token)
		if err != nil {
			continue
		}
		return []model.PriceCandidate{{
			Value:      v,
			Source:     model.SourceVisibleElement,
			Confidence: e.cfg.VisibleElementWeight,
		}}
	}
	return nil
}

// inlineScript matches platform-specific script variable assignments. The
// minor-unit normalization rule from platformMeta applies here too.
func (e *Extractor) inlineScript(html string, minorUnits bool) []model.PriceCandidate {
	var out []model.PriceCandidate
	for _, re := range e.patterns.scriptRes {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			v, err := parsePrice(m[1])
			if err != nil {
				continue
			}
			out = append(out, model.PriceCandidate{
				Value:      normalizeMinorUnits(v, e.cfg.MinorUnitThreshold, minorUnits),
				Source:     model.SourceInlineScript,
				Confidence: e.cfg.InlineScriptWeight,
			})
		}
	}
	return out
}

// frequencyFallback scans the whole document for currency-formatted
// substrings, buckets them by value and picks the most frequent one. Ties
// resolve to the larger value, consistent with the global tie-break.
func (e *Extractor) frequencyFallback(html string) []model.PriceCandidate {
	counts := make(map[int64]int)
	values := make(map[int64]float64)
	for _, token := range currencyTokenRe.FindAllString(foldText(html), -1) {
		v, err := parsePrice(token)
		if err != nil {
			continue
		}
		key := int64(v*100 + 0.5)
		counts[key]++
		values[key] = v
	}
	if len(counts) == 0 {
		return nil
	}

	var bestKey int64
	bestCount := -1
	for key, count := range counts {
		if count > bestCount || (count == bestCount && values[key] > values[bestKey]) {
			bestKey, bestCount = key, count
		}
	}
	return []model.PriceCandidate{{
		Value:      values[bestKey],
		Source:     model.SourceFrequencyFallback,
		Confidence: e.cfg.FrequencyFallbackWeight,
	}}
}
