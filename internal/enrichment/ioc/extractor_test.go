package ioc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/soc-core/internal/domain/model"
)

func TestExtractor_ExtractsMixedIndicators(t *testing.T) {
	e := New(DefaultOptions())
	text := "beacon to 203.0.113.9 resolved from evil-domain[.]com, hash d41d8cd98f00b204e9800998ecf8427e, see CVE-2023-12345 (t1059.001)"
	matches := e.Extract(text)

	byType := make(map[model.IOCType][]string)
	for _, m := range matches {
		byType[m.Type] = append(byType[m.Type], m.Value)
	}

	assert.Contains(t, byType[model.IOCTypeIPv4], "203.0.113.9")
	assert.Contains(t, byType[model.IOCTypeDomain], "evil-domain.com")
	assert.Contains(t, byType[model.IOCTypeMD5], "d41d8cd98f00b204e9800998ecf8427e")
	assert.Contains(t, byType[model.IOCTypeCVE], "CVE-2023-12345")
	assert.Contains(t, byType[model.IOCTypeMitreTechnique], "T1059.001")
}

func TestExtractor_FiltersPrivateAndFalsePositiveIPs(t *testing.T) {
	e := New(DefaultOptions())
	text := "internal chatter between 10.0.0.5 and 192.168.1.1, dns lookups via 8.8.8.8"
	matches := e.Extract(text)
	for _, m := range matches {
		if m.Type == model.IOCTypeIPv4 {
			t.Fatalf("expected private/false-positive IPs to be filtered, got %q", m.Value)
		}
	}
}

func TestExtractor_RefangsDefangedIndicators(t *testing.T) {
	e := New(DefaultOptions())
	text := "fetch hxxp://bad-site[.]net/payload.exe"
	matches := e.Extract(text)

	var urls, domains []string
	for _, m := range matches {
		switch m.Type {
		case model.IOCTypeURL:
			urls = append(urls, m.Value)
		case model.IOCTypeDomain:
			domains = append(domains, m.Value)
		}
	}
	require.NotEmpty(t, urls)
	assert.Contains(t, urls[0], "http://bad-site.net")
	assert.Contains(t, domains, "bad-site.net")
}

func TestExtractor_DoesNotRefangMeow(t *testing.T) {
	e := New(DefaultOptions())
	text := "the cat said meow loudly"
	matches := e.Extract(text)
	for _, m := range matches {
		if m.Type == model.IOCTypeURL {
			t.Fatalf("meow should not be refanged into a URL, got %q", m.Value)
		}
	}
}

func TestExtractor_RejectsLowEntropyDomains(t *testing.T) {
	e := New(DefaultOptions())
	matches := e.Extract("version 1.0.2 shipped")
	for _, m := range matches {
		assert.NotEqual(t, model.IOCTypeDomain, m.Type, "numeric-only labels should not validate as a domain")
	}
}

func TestExtractor_IncludeFilterNarrowsTypes(t *testing.T) {
	opts := DefaultOptions()
	opts.Include = []model.IOCType{model.IOCTypeIPv4}
	e := New(opts)
	matches := e.Extract("host 203.0.113.9 reached out to evil.example-test-domain.io")
	for _, m := range matches {
		assert.Equal(t, model.IOCTypeIPv4, m.Type)
	}
}
