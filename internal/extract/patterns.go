package extract

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// PatternSet holds the visible-element anchor patterns and inline-script
// assignment patterns, in priority order. Site operators extend the defaults
// through a YAML override file.
type PatternSet struct {
	Anchors       []string `yaml:"anchors"`
	ScriptAssigns []string `yaml:"script_assigns"`

	anchorRes []*regexp.Regexp
	scriptRes []*regexp.Regexp
}

// defaultAnchors match the class-name hints and currency-prefixed text most
// commonly wrapped around a visible price. Order matters: earlier anchors
// are tried first.
var defaultAnchors = []string{
	`(?is)<[a-z][a-z0-9]*[^>]*class="[^"]*\bprice--main\b[^"]*"[^>]*>(.{0,300}?)</`,
	`(?is)<[a-z][a-z0-9]*[^>]*class="[^"]*\bproduct-price\b[^"]*"[^>]*>(.{0,300}?)</`,
	`(?is)<[a-z][a-z0-9]*[^>]*class="[^"]*\bprice-item\b[^"]*"[^>]*>(.{0,300}?)</`,
	`(?is)<[a-z][a-z0-9]*[^>]*class="[^"]*\bcurrent-price\b[^"]*"[^>]*>(.{0,300}?)</`,
	`(?is)<[a-z][a-z0-9]*[^>]*class="[^"]*\bsale-price\b[^"]*"[^>]*>(.{0,300}?)</`,
	`(?is)<[a-z][a-z0-9]*[^>]*class="[^"]*\bprice\b[^"]*"[^>]*>(.{0,300}?)</`,
	`(?is)<[a-z][a-z0-9]*[^>]*id="[^"]*\bprice\b[^"]*"[^>]*>(.{0,300}?)</`,
	`(?is)<[a-z][a-z0-9]*[^>]*itemprop="price"[^>]*>(.{0,300}?)</`,
}

// defaultScriptAssigns match platform analytics variable assignments that
// carry the product price.
var defaultScriptAssigns = []string{
	`(?i)ShopifyAnalytics\.meta\.currency[^;]{0,80};?\s*ShopifyAnalytics\.meta\.price\s*=\s*"?(\d+(?:\.\d{1,2})?)"?`,
	`(?i)analytics\.meta\.price\s*=\s*"?(\d+(?:\.\d{1,2})?)"?`,
	`(?i)meta\.price\s*=\s*"?(\d+(?:\.\d{1,2})?)"?`,
	`(?i)var\s+productPrice\s*=\s*"?(\d+(?:\.\d{1,2})?)"?`,
	`(?i)"current_price"\s*:\s*"?(\d+(?:\.\d{1,2})?)"?`,
	`(?i)dataLayer\.push\([^)]{0,400}?"price"\s*:\s*"?(\d+(?:\.\d{1,2})?)"?`,
}

// DefaultPatterns returns the built-in pattern set.
func DefaultPatterns() *PatternSet {
	p := &PatternSet{
		Anchors:       append([]string(nil), defaultAnchors...),
		ScriptAssigns: append([]string(nil), defaultScriptAssigns...),
	}
	p.mustCompile()
	return p
}

// LoadPatterns reads a YAML override file and returns the default set with
// the file's patterns prepended, so overrides take priority.
func LoadPatterns(path string) (*PatternSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read patterns file %s", path)
	}

	var override PatternSet
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, eris.Wrapf(err, "extract: parse patterns file %s", path)
	}

	p := &PatternSet{
		Anchors:       append(append([]string(nil), override.Anchors...), defaultAnchors...),
		ScriptAssigns: append(append([]string(nil), override.ScriptAssigns...), defaultScriptAssigns...),
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PatternSet) compile() error {
	p.anchorRes = p.anchorRes[:0]
	for _, src := range p.Anchors {
		re, err := regexp.Compile(src)
		if err != nil {
			return eris.Wrapf(err, "extract: compile anchor pattern %q", src)
		}
		p.anchorRes = append(p.anchorRes, re)
	}
	p.scriptRes = p.scriptRes[:0]
	for _, src := range p.ScriptAssigns {
		re, err := regexp.Compile(src)
		if err != nil {
			return eris.Wrapf(err, "extract: compile script pattern %q", src)
		}
		p.scriptRes = append(p.scriptRes, re)
	}
	return nil
}

func (p *PatternSet) mustCompile() {
	if err := p.compile(); err != nil {
		panic(err)
	}
}
