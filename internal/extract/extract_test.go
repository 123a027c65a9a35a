package extract

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricesync/internal/config"
	"github.com/sells-group/pricesync/internal/model"
)

func testExtractConfig() config.ExtractConfig {
	return config.ExtractConfig{
		StructuredMetaWeight:    90,
		PlatformMetaWeight:      85,
		LinkedDataWeight:        80,
		VisibleElementWeight:    75,
		InlineScriptWeight:      70,
		FrequencyFallbackWeight: 60,
		MinorUnitThreshold:      1000,
		MinorUnitPlatforms:      []string{"shopify"},
	}
}

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New(testExtractConfig())
	require.NoError(t, err)
	return e
}

func TestExtract_StructuredMetaOnly(t *testing.T) {
	e := newTestExtractor(t)
	html := `<html><head><meta property="og:price:amount" content="49.99"></head><body></body></html>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/1")
	require.True(t, ok)
	assert.Equal(t, model.SourceStructuredMeta, c.Source)
	assert.InDelta(t, 49.99, c.Value, 0.001)
	assert.Equal(t, 90, c.Confidence)
}

func TestExtract_TieBreakPrefersLargerValue(t *testing.T) {
	e := newTestExtractor(t)
	// Sale/regular pair at the same confidence: the non-discounted price wins.
	html := `<head>
		<meta property="og:price:amount" content="49.99">
		<meta property="og:price:amount" content="59.99">
	</head>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/2")
	require.True(t, ok)
	assert.InDelta(t, 59.99, c.Value, 0.001)
	assert.Equal(t, 90, c.Confidence)
}

func TestExtract_Idempotent(t *testing.T) {
	e := newTestExtractor(t)
	html := `<meta property="og:price:amount" content="19.95">
		<span class="price">$24.95</span>
		<script type="application/ld+json">{"@type":"Product","offers":{"price":"19.95"}}</script>`

	first, ok := e.Extract(html, "https://supplier.example.com/p/3")
	require.True(t, ok)
	for range 10 {
		again, ok := e.Extract(html, "https://supplier.example.com/p/3")
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}

func TestExtract_PlatformMetaMinorUnits(t *testing.T) {
	e := newTestExtractor(t)
	html := `<script src="https://cdn.shopify.com/s/shop.js"></script>
		<script>var meta = {"product":{"variants":[{"price":12995,"name":"Default"}]}};</script>`

	c, ok := e.Extract(html, "https://supplier.example.com/products/widget")
	require.True(t, ok)
	assert.Equal(t, model.SourcePlatformMeta, c.Source)
	assert.InDelta(t, 129.95, c.Value, 0.001)
}

func TestExtract_PlatformMetaNoMinorUnitsOffPlatform(t *testing.T) {
	e := newTestExtractor(t)
	// No shopify markers: the raw value stands even above the threshold.
	html := `<script>var meta = {"product":{"price":1500}};</script>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/4")
	require.True(t, ok)
	assert.InDelta(t, 1500, c.Value, 0.001)
}

func TestExtract_LinkedData(t *testing.T) {
	e := newTestExtractor(t)
	html := `<script type="application/ld+json">
	{"@context":"https://schema.org","@type":"Product","name":"Widget",
	 "offers":{"@type":"Offer","priceCurrency":"USD","price":"89.50"}}
	</script>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/5")
	require.True(t, ok)
	assert.Equal(t, model.SourceLinkedData, c.Source)
	assert.InDelta(t, 89.50, c.Value, 0.001)
}

func TestExtract_VisibleElement(t *testing.T) {
	e := newTestExtractor(t)
	html := `<div class="product-info">
		<span class="product-price">Now only $34.95 each</span>
	</div>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/6")
	require.True(t, ok)
	assert.Equal(t, model.SourceVisibleElement, c.Source)
	assert.InDelta(t, 34.95, c.Value, 0.001)
}

func TestExtract_VisibleElementUnseparatedThousands(t *testing.T) {
	e := newTestExtractor(t)
	// Four-digit amounts without a thousands separator must not be cut
	// short at three digits.
	html := `<span class="product-price">$1299.95</span>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/14")
	require.True(t, ok)
	assert.Equal(t, model.SourceVisibleElement, c.Source)
	assert.InDelta(t, 1299.95, c.Value, 0.001)
}

func TestExtract_VisibleElementUnseparatedInteger(t *testing.T) {
	e := newTestExtractor(t)
	html := `<span class="product-price">$1299</span>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/15")
	require.True(t, ok)
	assert.Equal(t, model.SourceVisibleElement, c.Source)
	assert.InDelta(t, 1299.00, c.Value, 0.001)
}

func TestExtract_FrequencyFallbackUnseparatedThousands(t *testing.T) {
	e := newTestExtractor(t)
	html := `<html><body>
		<p>Sale price 1299.95 while stocks last.</p>
		<p>List price was 1299.95 last month.</p>
	</body></html>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/16")
	require.True(t, ok)
	assert.Equal(t, model.SourceFrequencyFallback, c.Source)
	assert.InDelta(t, 1299.95, c.Value, 0.001)
}

func TestExtract_VisibleElementNBSP(t *testing.T) {
	e := newTestExtractor(t)
	// Non-breaking space between symbol and amount.
	html := `<span class="price">$` + " " + `12.50</span>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/7")
	require.True(t, ok)
	assert.InDelta(t, 12.50, c.Value, 0.001)
}

func TestExtract_InlineScript(t *testing.T) {
	e := newTestExtractor(t)
	html := `<script>
		ShopifyAnalytics.meta.currency = 'USD';
		ShopifyAnalytics.meta.price = 4599;
	</script>`

	c, ok := e.Extract(html, "https://shop.myshopify.com/products/thing")
	require.True(t, ok)
	assert.Equal(t, model.SourceInlineScript, c.Source)
	assert.InDelta(t, 45.99, c.Value, 0.001)
}

func TestExtract_FrequencyFallback(t *testing.T) {
	e := newTestExtractor(t)
	html := `<p>Only $15.00! Was $20.00. Get it for $15.00 today. Just $15.00.</p>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/8")
	require.True(t, ok)
	assert.Equal(t, model.SourceFrequencyFallback, c.Source)
	assert.InDelta(t, 15.00, c.Value, 0.001)
	assert.Equal(t, 60, c.Confidence)
}

func TestExtract_FrequencyFallbackTiePrefersLarger(t *testing.T) {
	e := newTestExtractor(t)
	html := `<p>$10.00 and $30.00 and $10.00 and $30.00</p>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/9")
	require.True(t, ok)
	assert.InDelta(t, 30.00, c.Value, 0.001)
}

func TestExtract_HigherConfidenceWins(t *testing.T) {
	e := newTestExtractor(t)
	html := `<meta property="og:price:amount" content="49.99">
		<span class="price">$99.99</span>`

	c, ok := e.Extract(html, "https://supplier.example.com/p/10")
	require.True(t, ok)
	assert.Equal(t, model.SourceStructuredMeta, c.Source)
	assert.InDelta(t, 49.99, c.Value, 0.001)
}

func TestExtract_NotFound(t *testing.T) {
	e := newTestExtractor(t)

	for _, html := range []string{
		"",
		"<html><body><h1>About us</h1></body></html>",
		`<meta property="og:price:amount" content="zero dollars">`,
	} {
		_, ok := e.Extract(html, "https://supplier.example.com/p/none")
		assert.False(t, ok, "input: %q", html)
	}
}

func TestExtract_MalformedInputNoPanic(t *testing.T) {
	e := newTestExtractor(t)

	inputs := []string{
		`<meta property="og:price:amount" content="`,
		`<script type="application/ld+json">{not json</script>`,
		`<script>var meta = {"product": broken;</script>`,
		strings.Repeat(`<div class="price">`, 500),
		"\x00\xff\xfe binary garbage $12.34",
	}
	for _, html := range inputs {
		assert.NotPanics(t, func() {
			e.Extract(html, "://bad-url")
		})
	}
}

func TestNew_PatternsFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/patterns.yaml"
	yaml := `
anchors:
  - '(?is)<td[^>]*class="wholesale-cost"[^>]*>(.{0,100}?)</td>'
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg := testExtractConfig()
	cfg.PatternsFile = path
	e, err := New(cfg)
	require.NoError(t, err)

	html := `<table><td class="wholesale-cost">$77.25</td></table>`
	c, ok := e.Extract(html, "https://supplier.example.com/p/11")
	require.True(t, ok)
	assert.Equal(t, model.SourceVisibleElement, c.Source)
	assert.InDelta(t, 77.25, c.Value, 0.001)
}
