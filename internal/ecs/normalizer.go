// Package ecs projects ParsedEvents into Elastic Common Schema documents
// ready for indexing by the search service.
package ecs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/target/soc-core/internal/domain/model"
)

// Version is the ECS spec version this normalizer targets.
const Version = "8.11"

var (
	ipv4Pattern = regexp.MustCompile(`^(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)$`)
	ipv6Pattern = regexp.MustCompile(`^(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}$|^::(?:[0-9a-fA-F]{1,4}:){0,6}[0-9a-fA-F]{1,4}$|^(?:[0-9a-fA-F]{1,4}:){1,6}::$`)

	md5Pattern    = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
	sha1Pattern   = regexp.MustCompile(`^[a-fA-F0-9]{40}$`)
	sha256Pattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
)

// Normalizer converts ParsedEvents into ECSDocuments.
type Normalizer struct {
	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// NewNormalizer returns a Normalizer using the real clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{Now: time.Now}
}

// Normalize projects a single ParsedEvent, produced by parserName from
// ev.SourceFile, into its ECS document form.
func (n *Normalizer) Normalize(ev *model.ParsedEvent, parserName string) *model.ECSDocument {
	now := n.now()

	doc := &model.ECSDocument{
		Timestamp: ev.Timestamp,
		Message:   ev.Message,
		Event:     n.buildEvent(ev),
		Host:      buildHost(ev),
		User:      buildUser(ev),
		Process:   buildProcess(ev),
		File:      buildFile(ev),
		URL:       buildURL(ev),
		Labels:    ev.Labels,
		Internal: model.ECSInternal{
			ParserName: parserName,
			SourceFile: ev.SourceFile,
			SourceLine: ev.SourceLine,
			IndexedAt:  now,
		},
	}

	if ev.SourceIP != nil {
		doc.Source = &model.ECSNetworkEnd{IP: *ev.SourceIP}
		if ev.SourcePort != nil {
			doc.Source.Port = *ev.SourcePort
		}
	}
	if ev.DestinationIP != nil {
		doc.Destination = &model.ECSNetworkEnd{IP: *ev.DestinationIP}
		if ev.DestinationPort != nil {
			doc.Destination.Port = *ev.DestinationPort
		}
	}

	doc.ID = DocumentID(ev)
	return doc
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n *Normalizer) buildEvent(ev *model.ParsedEvent) model.ECSEvent {
	category := ev.EventCategory
	if len(category) == 0 {
		category = []string{"process"}
	}
	typ := ev.EventType
	if len(typ) == 0 {
		typ = []string{"info"}
	}
	e := model.ECSEvent{
		Kind:     ev.EventKind,
		Category: category,
		Type:     typ,
		Action:   ev.EventAction,
	}
	if ev.EventOutcome != nil {
		e.Outcome = *ev.EventOutcome
	}
	return e
}

func buildHost(ev *model.ParsedEvent) *model.ECSHost {
	if ev.HostName == nil || *ev.HostName == "" {
		return nil
	}
	return &model.ECSHost{Name: *ev.HostName}
}

func buildUser(ev *model.ParsedEvent) *model.ECSUser {
	if (ev.UserName == nil || *ev.UserName == "") && (ev.UserID == nil || *ev.UserID == "") {
		return nil
	}
	u := &model.ECSUser{}
	if ev.UserName != nil {
		u.Name = *ev.UserName
	}
	if ev.UserID != nil {
		u.ID = *ev.UserID
	}
	if ev.UserDomain != nil {
		u.Domain = *ev.UserDomain
	}
	return u
}

func buildProcess(ev *model.ParsedEvent) *model.ECSProcess {
	if (ev.ProcessName == nil || *ev.ProcessName == "") && ev.ProcessPID == nil {
		return nil
	}
	p := &model.ECSProcess{}
	if ev.ProcessName != nil {
		p.Name = *ev.ProcessName
	}
	if ev.ProcessPID != nil {
		p.PID = *ev.ProcessPID
	}
	if ev.ProcessExecutable != nil {
		p.Executable = *ev.ProcessExecutable
	}
	if ev.ProcessCommandLine != nil {
		p.CommandLine = *ev.ProcessCommandLine
	}
	if ev.ProcessPPID != nil {
		p.PPID = *ev.ProcessPPID
	}
	return p
}

func buildFile(ev *model.ParsedEvent) *model.ECSFile {
	if ev.FilePath == nil || *ev.FilePath == "" {
		return nil
	}
	f := &model.ECSFile{Path: *ev.FilePath, Name: lastPathComponent(*ev.FilePath)}
	if idx := strings.LastIndex(f.Name, "."); idx > 0 {
		f.Ext = f.Name[idx+1:]
	}
	if ev.FileSize != nil {
		f.Size = *ev.FileSize
	}
	if ev.FileHash != nil && *ev.FileHash != "" {
		f.Hash = hashByType(*ev.FileHash)
	}
	return f
}

func hashByType(h string) *model.ECSHash {
	h = strings.ToLower(strings.TrimSpace(h))
	switch IdentifyHashType(h) {
	case "md5":
		return &model.ECSHash{MD5: h}
	case "sha1":
		return &model.ECSHash{SHA1: h}
	case "sha256":
		return &model.ECSHash{SHA256: h}
	default:
		return nil
	}
}

func buildURL(ev *model.ParsedEvent) *model.ECSURL {
	if ev.URL == nil || *ev.URL == "" {
		return nil
	}
	u := &model.ECSURL{Full: *ev.URL}
	parsed, err := url.Parse(*ev.URL)
	if err != nil {
		return u
	}
	u.Scheme = parsed.Scheme
	u.Domain = parsed.Hostname()
	u.Path = parsed.Path
	u.Query = parsed.RawQuery
	u.Fragment = parsed.Fragment
	if p := parsed.Port(); p != "" {
		fmt.Sscanf(p, "%d", &u.Port)
	}
	return u
}

func lastPathComponent(path string) string {
	sep := "/"
	if strings.Contains(path, "\\") {
		sep = "\\"
	}
	if idx := strings.LastIndex(path, sep); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// DocumentID deterministically derives the ECS document's _id from its key
// identifying fields, so re-indexing the same source artifact is idempotent.
func DocumentID(ev *model.ParsedEvent) string {
	key := strings.Join([]string{
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.SourceType,
		ev.SourceFile,
		fmt.Sprintf("%d", ev.SourceLine),
		ev.Message,
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:20]
}

// NormalizeIPs filters a slice down to only syntactically valid IPv4/IPv6 addresses.
func NormalizeIPs(ips []string) []string {
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		ip = strings.TrimSpace(ip)
		if ipv4Pattern.MatchString(ip) || ipv6Pattern.MatchString(ip) {
			out = append(out, ip)
		}
	}
	return out
}

// NormalizeMAC lowercases a MAC address and re-inserts colon separators
// regardless of the input's original separator style.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(strings.TrimSpace(mac))
	mac = strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac)
	var b strings.Builder
	for i := 0; i < len(mac); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		end := i + 2
		if end > len(mac) {
			end = len(mac)
		}
		b.WriteString(mac[i:end])
	}
	return b.String()
}

// IdentifyHashType returns "md5", "sha1", "sha256", or "" for an unrecognized length/format.
func IdentifyHashType(hash string) string {
	hash = strings.ToLower(strings.TrimSpace(hash))
	switch {
	case md5Pattern.MatchString(hash):
		return "md5"
	case sha1Pattern.MatchString(hash):
		return "sha1"
	case sha256Pattern.MatchString(hash):
		return "sha256"
	default:
		return ""
	}
}

// ValidateDocument returns a list of structural warnings for an ECS document,
// mirroring the consistency checks the ingestion pipeline runs before indexing.
func ValidateDocument(doc *model.ECSDocument) []string {
	var warnings []string
	if doc.Timestamp.IsZero() {
		warnings = append(warnings, "missing @timestamp field")
	}
	if len(doc.Event.Category) == 0 {
		warnings = append(warnings, "missing event.category")
	}
	if len(doc.Event.Type) == 0 {
		warnings = append(warnings, "missing event.type")
	}
	return warnings
}
