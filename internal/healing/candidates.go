package healing

import (
	"fmt"
	"regexp"
	"strings"
)

// Candidate is a proposed replacement selector with a confidence score
// in [0, 1]; higher runs first during evaluation.
type Candidate struct {
	Selector   string
	Strategy   string
	Confidence float64
}

// attrPattern extracts one attribute kind from a CSS/XPath-ish selector
// string, mirroring the ratelimit detector's pattern-table idiom.
type attrPattern struct {
	name    string
	pattern *regexp.Regexp
}

var attrPatterns = []attrPattern{
	{"id", regexp.MustCompile(`#([\w-]+)|\[id=["']?([\w-]+)["']?\]`)},
	{"data-testid", regexp.MustCompile(`\[data-testid=["']?([\w-]+)["']?\]`)},
	{"name", regexp.MustCompile(`\[name=["']?([\w-]+)["']?\]`)},
	{"aria-label", regexp.MustCompile(`\[aria-label=["']?([^"'\]]+)["']?\]`)},
	{"placeholder", regexp.MustCompile(`\[placeholder=["']?([^"'\]]+)["']?\]`)},
	{"class", regexp.MustCompile(`\.([\w-]+)`)},
}

// textHintPatterns pull an element description/text hint out of a
// selector string per §4.4's "fixed set of regexes against text()
// contains, aria-label, title, placeholder, value".
var textHintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`contains\(text\(\),\s*["']([^"']+)["']\)`),
	regexp.MustCompile(`\[aria-label=["']?([^"'\]]+)["']?\]`),
	regexp.MustCompile(`\[title=["']?([^"'\]]+)["']?\]`),
	regexp.MustCompile(`\[placeholder=["']?([^"'\]]+)["']?\]`),
	regexp.MustCompile(`\[value=["']?([^"'\]]+)["']?\]`),
}

// extractAttrs parses out the attribute values §4.4 names: id, name,
// data-testid, aria-label, placeholder, class.
func extractAttrs(selector string) map[string]string {
	attrs := make(map[string]string)
	for _, p := range attrPatterns {
		m := p.pattern.FindStringSubmatch(selector)
		if m == nil {
			continue
		}
		for _, g := range m[1:] {
			if g != "" {
				attrs[p.name] = g
				break
			}
		}
	}
	return attrs
}

// extractTextHint returns the first text/label-ish hint found in the
// selector, or "" if none match.
func extractTextHint(selector string) string {
	for _, p := range textHintPatterns {
		if m := p.FindStringSubmatch(selector); m != nil {
			return m[1]
		}
	}
	return ""
}

// attrConfidence returns the exact-match confidence ceiling for one
// attribute kind, highest for id per §4.4.
func attrConfidence(attr string) float64 {
	switch attr {
	case "id":
		return 0.95
	case "data-testid":
		return 0.92
	case "name":
		return 0.90
	case "aria-label":
		return 0.88
	case "placeholder":
		return 0.88
	case "class":
		return 0.88
	default:
		return 0.80
	}
}

// attributeFallbacks implements §4.4 strategy 3: exact and prefix CSS
// attribute-selector candidates for each attribute present.
func attributeFallbacks(attrs map[string]string) []Candidate {
	var out []Candidate
	for attr, val := range attrs {
		out = append(out, Candidate{
			Selector:   cssAttrSelector(attr, val, false),
			Strategy:   "attribute_exact",
			Confidence: attrConfidence(attr),
		})
		if len(val) > 4 {
			out = append(out, Candidate{
				Selector:   cssAttrSelector(attr, val, true),
				Strategy:   "attribute_prefix",
				Confidence: 0.72 + 0.08*prefixBonus(attr),
			})
		}
	}
	return out
}

func prefixBonus(attr string) float64 {
	if attr == "id" || attr == "data-testid" {
		return 1
	}
	return 0
}

func cssAttrSelector(attr, val string, prefix bool) string {
	switch attr {
	case "id":
		if prefix {
			return fmt.Sprintf(`[id^="%s"]`, val)
		}
		return "#" + val
	case "class":
		if prefix {
			return fmt.Sprintf(`[class^="%s"]`, val)
		}
		return "." + val
	default:
		if prefix {
			return fmt.Sprintf(`[%s^="%s"]`, attr, val)
		}
		return fmt.Sprintf(`[%s="%s"]`, attr, val)
	}
}

// textMatchCandidates implements §4.4 strategy 4: XPath/CSS variants
// built from a text or label hint extracted from the original selector.
func textMatchCandidates(hint string) []Candidate {
	if hint == "" {
		return nil
	}
	return []Candidate{
		{Selector: fmt.Sprintf(`//*[contains(text(),"%s")]`, hint), Strategy: "text_match", Confidence: 0.90},
		{Selector: fmt.Sprintf(`//*[@aria-label="%s"]`, hint), Strategy: "text_match", Confidence: 0.85},
		{Selector: fmt.Sprintf(`//*[@title="%s"]`, hint), Strategy: "text_match", Confidence: 0.78},
		{Selector: fmt.Sprintf(`//*[@placeholder="%s"]`, hint), Strategy: "text_match", Confidence: 0.70},
	}
}

// attributeFuzzy implements §4.4 strategy 5: exact, substring, and
// first-half prefix variants for every extracted attribute.
func attributeFuzzy(attrs map[string]string) []Candidate {
	var out []Candidate
	for attr, val := range attrs {
		out = append(out, Candidate{
			Selector:   fmt.Sprintf(`[%s="%s"]`, attr, val),
			Strategy:   "attribute_fuzzy_exact",
			Confidence: 0.75,
		})
		out = append(out, Candidate{
			Selector:   fmt.Sprintf(`[%s*="%s"]`, attr, val),
			Strategy:   "attribute_fuzzy_substring",
			Confidence: 0.68,
		})
		if half := val[:max(1, len(val)/2)]; half != "" {
			out = append(out, Candidate{
				Selector:   fmt.Sprintf(`[%s^="%s"]`, attr, half),
				Strategy:   "attribute_fuzzy_prefix_half",
				Confidence: 0.60,
			})
		}
	}
	return out
}

// xpathFallback implements §4.4 strategy 6: converts an id or class
// selector to the equivalent XPath expression.
func xpathFallback(attrs map[string]string) []Candidate {
	var out []Candidate
	if id, ok := attrs["id"]; ok {
		out = append(out, Candidate{
			Selector:   fmt.Sprintf(`//*[@id="%s"]`, id),
			Strategy:   "xpath_fallback",
			Confidence: 0.70,
		})
	}
	if class, ok := attrs["class"]; ok {
		out = append(out, Candidate{
			Selector:   fmt.Sprintf(`//*[contains(@class,"%s")]`, class),
			Strategy:   "xpath_fallback",
			Confidence: 0.65,
		})
	}
	return out
}

// cssVariations implements §4.4 strategy 7: tag + class + type/role/
// data-type derived variants.
func cssVariations(selector string, attrs map[string]string) []Candidate {
	tag := extractTag(selector)
	var out []Candidate
	if tag != "" && attrs["class"] != "" {
		out = append(out, Candidate{
			Selector:   fmt.Sprintf("%s.%s", tag, attrs["class"]),
			Strategy:   "css_variation",
			Confidence: 0.75,
		})
	}
	for _, attr := range []string{"type", "role", "data-type"} {
		if tag != "" {
			out = append(out, Candidate{
				Selector:   fmt.Sprintf(`%s[%s]`, tag, attr),
				Strategy:   "css_variation",
				Confidence: 0.65,
			})
		}
	}
	return out
}

var tagPattern = regexp.MustCompile(`^([a-zA-Z][\w-]*)`)

func extractTag(selector string) string {
	selector = strings.TrimSpace(selector)
	if m := tagPattern.FindStringSubmatch(selector); m != nil {
		return m[1]
	}
	return ""
}

// generateCandidates runs strategies 3-7 against the original selector
// and returns them sorted by descending confidence, capped at
// maxCandidates. Strategies 1 (cached history) and 2 (persisted
// history) are handled by the engine before calling this.
func generateCandidates(original string, maxCandidates int) []Candidate {
	attrs := extractAttrs(original)
	hint := extractTextHint(original)

	var all []Candidate
	all = append(all, attributeFallbacks(attrs)...)
	all = append(all, textMatchCandidates(hint)...)
	all = append(all, attributeFuzzy(attrs)...)
	all = append(all, xpathFallback(attrs)...)
	all = append(all, cssVariations(original, attrs)...)

	sortByConfidenceDesc(all)

	seen := make(map[string]bool)
	var deduped []Candidate
	for _, c := range all {
		if seen[c.Selector] || c.Selector == original {
			continue
		}
		seen[c.Selector] = true
		deduped = append(deduped, c)
		if len(deduped) >= maxCandidates {
			break
		}
	}
	return deduped
}

func sortByConfidenceDesc(candidates []Candidate) {
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Confidence > candidates[j-1].Confidence; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
}
