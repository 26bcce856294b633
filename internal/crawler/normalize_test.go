package crawler

import "testing"

func TestNormalizeStripsFragmentAndLowercasesHost(t *testing.T) {
	got := Normalize("https://Example.COM/path#section")
	want := "https://example.com/path"
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestNormalizeCollapsesTrailingSlashExceptRoot(t *testing.T) {
	if got := Normalize("https://example.com/foo/"); got != "https://example.com/foo" {
		t.Errorf("Normalize() = %q, want trailing slash stripped", got)
	}
	if got := Normalize("https://example.com/"); got != "https://example.com/" {
		t.Errorf("Normalize() = %q, want root slash preserved", got)
	}
}

func TestNormalizeSortsQueryParams(t *testing.T) {
	a := Normalize("https://example.com/search?b=2&a=1")
	b := Normalize("https://example.com/search?a=1&b=2")
	if a != b {
		t.Errorf("expected equivalent query param order to normalize the same, got %q vs %q", a, b)
	}
}

func TestClassifyPriorityMatchesTable(t *testing.T) {
	cases := map[string]int{
		"https://example.com/login":        PriorityCritical,
		"https://example.com/checkout":     PriorityCritical,
		"https://example.com/dashboard":    PriorityHigh,
		"https://example.com/search?q=foo": PriorityMedium,
		"https://example.com/about":        PriorityLow,
		"https://example.com/terms":        PriorityDeferred,
		"https://example.com/unrelated":    PriorityLow,
	}
	for url, want := range cases {
		if got := classifyPriority(url); got != want {
			t.Errorf("classifyPriority(%q) = %d, want %d", url, got, want)
		}
	}
}

func TestExtensionExtraction(t *testing.T) {
	if got := extension("https://example.com/file.PDF"); got != "pdf" {
		t.Errorf("extension() = %q, want pdf", got)
	}
	if got := extension("https://example.com/page"); got != "" {
		t.Errorf("extension() = %q, want empty", got)
	}
}
