// Package ioc extracts indicators of compromise (IPs, domains, URLs,
// hashes, CVEs, MITRE technique IDs, file paths, registry keys, bitcoin
// addresses) from free text such as log messages and parsed evidence.
package ioc

import (
	"net/netip"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/target/soc-core/internal/domain/model"
)

var patterns = map[model.IOCType]*regexp.Regexp{
	model.IOCTypeIPv4: regexp.MustCompile(
		`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
	model.IOCTypeIPv6: regexp.MustCompile(
		`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`),
	model.IOCTypeMD5:    regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`),
	model.IOCTypeSHA1:   regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`),
	model.IOCTypeSHA256: regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`),
	model.IOCTypeEmail:  regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
	model.IOCTypeURL: regexp.MustCompile(
		`(?i)https?://(?:[-\w.]|(?:%[\da-fA-F]{2}))+(?::\d+)?(?:/[-\w./?%&=+#~!@$*,;:()]*)?`),
	model.IOCTypeDomain: regexp.MustCompile(
		`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\b`),
	model.IOCTypeCVE:            regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,}\b`),
	model.IOCTypeMitreTechnique: regexp.MustCompile(`(?i)\b(?:T|TA)\d{4}(?:\.\d{3})?\b`),
	model.IOCTypeFilePath: regexp.MustCompile(
		`(?:[A-Za-z]:\\(?:[^\\/:*?"<>|\r\n]+\\)*[^\\/:*?"<>|\r\n]*)|(?:/(?:[^/\s]+/)+[^/\s]+)`),
	model.IOCTypeRegistryKey: regexp.MustCompile(
		`(?i)\b(?:HKEY_(?:LOCAL_MACHINE|CURRENT_USER|CLASSES_ROOT|USERS|CURRENT_CONFIG)|HKLM|HKCU|HKCR|HKU|HKCC)\\[^\s]+\b`),
	model.IOCTypeBitcoinAddress: regexp.MustCompile(
		`\b(?:[13][a-km-zA-HJ-NP-Z1-9]{25,34}|bc1[ac-hj-np-z02-9]{11,71})\b`),
}

// extractionOrder fixes iteration order so extraction (and therefore the
// dedup-by-position behavior) is deterministic across runs.
var extractionOrder = []model.IOCType{
	model.IOCTypeIPv4, model.IOCTypeIPv6, model.IOCTypeMD5, model.IOCTypeSHA1, model.IOCTypeSHA256,
	model.IOCTypeEmail, model.IOCTypeURL, model.IOCTypeDomain, model.IOCTypeCVE,
	model.IOCTypeMitreTechnique, model.IOCTypeFilePath, model.IOCTypeRegistryKey, model.IOCTypeBitcoinAddress,
}

var validTLDs = map[string]bool{
	"com": true, "org": true, "net": true, "edu": true, "gov": true, "mil": true, "int": true,
	"io": true, "co": true, "me": true, "info": true, "biz": true, "tv": true, "cc": true,
	"us": true, "uk": true, "ca": true, "au": true, "de": true, "fr": true, "jp": true,
	"cn": true, "ru": true, "br": true, "in": true, "eu": true, "xyz": true, "online": true,
	"site": true, "tech": true, "app": true, "dev": true,
}

var falsePositiveDomains = map[string]bool{
	"example.com": true, "example.org": true, "example.net": true,
	"localhost.localdomain": true, "test.com": true, "test.local": true,
	"schema.org": true, "w3.org": true, "microsoft.com": true, "google.com": true,
}

var falsePositiveIPs = map[string]bool{
	"0.0.0.0": true, "127.0.0.1": true, "255.255.255.255": true,
	"1.1.1.1": true, "8.8.8.8": true, "8.8.4.4": true,
}

var refangRules = []struct {
	pattern *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`\[\.\]`), "."},
	{regexp.MustCompile(`(?i)\[dot\]`), "."},
	{regexp.MustCompile(`\(\.\)`), "."},
	{regexp.MustCompile(`\[:\]`), ":"},
	{regexp.MustCompile(`(?i)hxxp`), "http"},
	{regexp.MustCompile(`(?i)\[at\]`), "@"},
	{regexp.MustCompile(`\[@\]`), "@"},
	{regexp.MustCompile(`(?i)\(at\)`), "@"},
}

// Options configures an Extractor.
type Options struct {
	Include             []model.IOCType
	Exclude             []model.IOCType
	Defang              bool
	FilterFalsePositives bool
	ContextChars        int
	Now                 func() time.Time
}

// DefaultOptions mirrors the original extractor's defaults: defang on,
// false-positive filtering on, 50 characters of surrounding context.
func DefaultOptions() Options {
	return Options{Defang: true, FilterFalsePositives: true, ContextChars: 50, Now: time.Now}
}

// Extractor pulls IOCMatch values out of free text.
type Extractor struct {
	include map[model.IOCType]bool
	exclude map[model.IOCType]bool
	opts    Options
}

// New builds an Extractor from Options.
func New(opts Options) *Extractor {
	if opts.ContextChars <= 0 {
		opts.ContextChars = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Extractor{opts: opts}
	if len(opts.Include) > 0 {
		e.include = make(map[model.IOCType]bool, len(opts.Include))
		for _, t := range opts.Include {
			e.include[t] = true
		}
	}
	if len(opts.Exclude) > 0 {
		e.exclude = make(map[model.IOCType]bool, len(opts.Exclude))
		for _, t := range opts.Exclude {
			e.exclude[t] = true
		}
	}
	return e
}

type rawMatch struct {
	ioctype  model.IOCType
	value    string
	original string
	start    int
	end      int
}

// Extract returns every IOC found in text, deduplicated by (type, value)
// and ordered by position of first occurrence.
func (e *Extractor) Extract(text string) []model.IOCMatch {
	if e.opts.Defang {
		text = refang(text)
	}

	seen := make(map[string]bool)
	var raw []rawMatch

	for _, t := range extractionOrder {
		if e.include != nil && !e.include[t] {
			continue
		}
		if e.exclude[t] {
			continue
		}
		pattern := patterns[t]
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			normalized := normalize(value, t)

			key := string(t) + "\x00" + normalized
			if seen[key] {
				continue
			}
			if !validate(normalized, t) {
				continue
			}
			if e.opts.FilterFalsePositives && isFalsePositive(normalized, t) {
				continue
			}
			seen[key] = true
			raw = append(raw, rawMatch{ioctype: t, value: normalized, original: value, start: loc[0], end: loc[1]})
		}
	}

	sort.Slice(raw, func(i, j int) bool { return raw[i].start < raw[j].start })

	now := e.opts.Now()
	matches := make([]model.IOCMatch, 0, len(raw))
	for _, r := range raw {
		start := r.start - e.opts.ContextChars
		if start < 0 {
			start = 0
		}
		end := r.end + e.opts.ContextChars
		if end > len(text) {
			end = len(text)
		}
		matches = append(matches, model.IOCMatch{
			Type:        r.ioctype,
			Value:       r.value,
			RawValue:    r.original,
			Context:     text[start:end],
			ExtractedAt: now,
		})
	}
	return matches
}

// refang reverses common indicator defanging (`[.]` -> `.`, `hxxp` ->
// `http`, `[at]` -> `@`). The original extractor also rewrote the string
// "meow" to "http" — an undocumented joke rule with no security purpose —
// which is intentionally not carried over here.
func refang(text string) string {
	for _, rule := range refangRules {
		text = rule.pattern.ReplaceAllString(text, rule.replace)
	}
	return text
}

func normalize(value string, t model.IOCType) string {
	switch t {
	case model.IOCTypeMD5, model.IOCTypeSHA1, model.IOCTypeSHA256, model.IOCTypeDomain, model.IOCTypeURL, model.IOCTypeEmail:
		return strings.ToLower(value)
	case model.IOCTypeCVE, model.IOCTypeMitreTechnique:
		return strings.ToUpper(value)
	default:
		return value
	}
}

func validate(value string, t model.IOCType) bool {
	switch t {
	case model.IOCTypeDomain:
		parts := strings.Split(value, ".")
		if len(parts) < 2 {
			return false
		}
		tld := strings.ToLower(parts[len(parts)-1])
		if !validTLDs[tld] && len(tld) != 2 {
			return false
		}
		allDigits := true
		for _, p := range parts {
			if _, err := strconv.Atoi(p); err != nil {
				allDigits = false
				break
			}
		}
		return !allDigits
	case model.IOCTypeFilePath:
		return len(value) >= 5
	case model.IOCTypeIPv4:
		_, err := netip.ParseAddr(value)
		return err == nil
	default:
		return true
	}
}

func isFalsePositive(value string, t model.IOCType) bool {
	switch t {
	case model.IOCTypeDomain:
		return falsePositiveDomains[strings.ToLower(value)]
	case model.IOCTypeIPv4:
		if falsePositiveIPs[value] {
			return true
		}
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return false
		}
		return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
	case model.IOCTypeMD5, model.IOCTypeSHA1, model.IOCTypeSHA256:
		return isAllSameRune(value, '0') || isAllSameRune(strings.ToLower(value), 'f')
	default:
		return false
	}
}

func isAllSameRune(s string, r rune) bool {
	for _, c := range s {
		if c != r {
			return false
		}
	}
	return len(s) > 0
}
