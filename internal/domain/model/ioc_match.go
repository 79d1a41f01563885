package model

import "time"

// IOCType enumerates the kinds of indicators the extractor recognizes.
type IOCType string

const (
	IOCTypeIPv4            IOCType = "ipv4"
	IOCTypeIPv6            IOCType = "ipv6"
	IOCTypeDomain          IOCType = "domain"
	IOCTypeURL             IOCType = "url"
	IOCTypeEmail           IOCType = "email"
	IOCTypeMD5             IOCType = "md5"
	IOCTypeSHA1            IOCType = "sha1"
	IOCTypeSHA256          IOCType = "sha256"
	IOCTypeCVE             IOCType = "cve"
	IOCTypeMitreTechnique  IOCType = "mitre_technique"
	IOCTypeFilePath        IOCType = "filepath"
	IOCTypeRegistryKey     IOCType = "registry_key"
	IOCTypeBitcoinAddress  IOCType = "bitcoin_address"
)

// Valid reports whether t is a recognized IOC type.
func (t IOCType) Valid() bool {
	switch t {
	case IOCTypeIPv4, IOCTypeIPv6, IOCTypeDomain, IOCTypeURL, IOCTypeEmail,
		IOCTypeMD5, IOCTypeSHA1, IOCTypeSHA256, IOCTypeCVE, IOCTypeMitreTechnique,
		IOCTypeFilePath, IOCTypeRegistryKey, IOCTypeBitcoinAddress:
		return true
	default:
		return false
	}
}

// IsHash reports whether t is one of the file-hash indicator types.
func (t IOCType) IsHash() bool {
	return t == IOCTypeMD5 || t == IOCTypeSHA1 || t == IOCTypeSHA256
}

// IOCMatch is a single indicator of compromise extracted from event text,
// prior to enrichment.
type IOCMatch struct {
	Type       IOCType   `json:"type"`
	Value      string    `json:"value"`
	RawValue   string    `json:"raw_value"`
	Context    string    `json:"context,omitempty"`
	SourceID   string    `json:"source_id,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Verdict is the reputation classification assigned to an indicator by enrichment.
type Verdict string

const (
	VerdictClean      Verdict = "clean"
	VerdictUnknown    Verdict = "unknown"
	VerdictSuspicious Verdict = "suspicious"
	VerdictMalicious  Verdict = "malicious"
)

// verdictRank orders verdicts from least to most severe, used to merge results
// from multiple enrichment providers: malicious > suspicious > unknown > clean.
var verdictRank = map[Verdict]int{
	VerdictClean:      0,
	VerdictUnknown:    1,
	VerdictSuspicious: 2,
	VerdictMalicious:  3,
}

// MergeVerdicts returns whichever of a, b ranks as more severe.
func MergeVerdicts(a, b Verdict) Verdict {
	if verdictRank[a] >= verdictRank[b] {
		return a
	}
	return b
}

// EnrichmentStatus describes how an enrichment lookup completed.
type EnrichmentStatus string

const (
	EnrichmentStatusOK        EnrichmentStatus = "ok"
	EnrichmentStatusCached    EnrichmentStatus = "cached"
	EnrichmentStatusTimeout   EnrichmentStatus = "timeout"
	EnrichmentStatusError     EnrichmentStatus = "error"
	EnrichmentStatusSkipped   EnrichmentStatus = "skipped"
)

// EnrichmentResult is the aggregated outcome of querying every configured
// threat-intel provider for a single indicator.
type EnrichmentResult struct {
	Indicator    string           `json:"indicator"`
	Type         IOCType          `json:"type"`
	Verdict      Verdict          `json:"verdict"`
	Score        float64          `json:"score"`
	Tags         []string         `json:"tags,omitempty"`
	Sources      []string         `json:"sources,omitempty"`
	FirstSeen    *time.Time       `json:"first_seen,omitempty"`
	LastSeen     *time.Time       `json:"last_seen,omitempty"`
	Status       EnrichmentStatus `json:"status"`
	ProviderHits map[string]ProviderHit `json:"provider_hits,omitempty"`
	EnrichedAt   time.Time        `json:"enriched_at"`
}

// ProviderHit is one provider's raw response contributing to an EnrichmentResult.
type ProviderHit struct {
	Provider string   `json:"provider"`
	Verdict  Verdict  `json:"verdict"`
	Score    float64  `json:"score"`
	Tags     []string `json:"tags,omitempty"`
	Err      string   `json:"error,omitempty"`
}
