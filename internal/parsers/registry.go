// Package parsers defines the evidence-parser registry: the pluggable
// interface every evidence format implements, and the lookup table the
// parsing pipeline uses to pick a parser for a given artifact.
package parsers

import (
	"context"
	"io"
	"iter"
	"path/filepath"
	"strings"
	"sync"

	"github.com/target/soc-core/internal/domain/model"
)

// Parser parses a single evidence artifact into a stream of ParsedEvents.
// Implementations must be safe for concurrent use by multiple goroutines
// once registered, since the parsing worker pool may invoke the same
// parser for different jobs concurrently.
type Parser interface {
	// Metadata describes the parser's identity and matching rules.
	Metadata() model.ParserMetadata

	// CanParse reports whether this parser is a plausible match for the
	// given file name and/or a sniff of its leading bytes. Either argument
	// may be empty/nil; implementations should use whichever is available.
	CanParse(fileName string, sniff []byte) bool

	// Parse reads from r and yields ParsedEvents one at a time. Iteration
	// stops at the first error; callers should treat a non-nil error from
	// the sequence as terminal for that source.
	Parse(ctx context.Context, r io.Reader, sourceName string) iter.Seq2[*model.ParsedEvent, error]
}

// Registry is a concurrency-safe lookup table of registered parsers, keyed
// by name and indexed by supported extension for fast CanParse probing.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]Parser
	byExt      map[string][]Parser
}

// NewRegistry returns an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Parser),
		byExt:  make(map[string][]Parser),
	}
}

// Register adds a parser to the registry. It panics if a parser with the
// same name is already registered, since that indicates a wiring bug at
// startup rather than a runtime condition callers should handle.
func (r *Registry) Register(p Parser) {
	meta := p.Metadata()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[meta.Name]; exists {
		panic("parsers: duplicate parser name " + meta.Name)
	}
	r.byName[meta.Name] = p

	for _, ext := range meta.SupportedExtensions {
		ext = normalizeExt(ext)
		r.byExt[ext] = append(r.byExt[ext], p)
	}
}

// Get returns the parser registered under name, if any.
func (r *Registry) Get(name string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// All returns every registered parser, sorted by descending priority; the
// order of parsers with equal priority follows map iteration and is not defined.
func (r *Registry) All() []Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Parser, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	sortParsersByPriority(out)
	return out
}

// Resolve returns the best-matching parser for a source, preferring an
// extension match and falling back to probing every registered parser's
// CanParse against the sniffed bytes. It returns false if nothing matches.
func (r *Registry) Resolve(fileName string, sniff []byte) (Parser, bool) {
	ext := normalizeExt(filepath.Ext(fileName))

	r.mu.RLock()
	candidates := append([]Parser(nil), r.byExt[ext]...)
	all := make([]Parser, 0, len(r.byName))
	for _, p := range r.byName {
		all = append(all, p)
	}
	r.mu.RUnlock()

	sortParsersByPriority(candidates)
	for _, p := range candidates {
		if p.CanParse(fileName, sniff) {
			return p, true
		}
	}

	sortParsersByPriority(all)
	for _, p := range all {
		if p.CanParse(fileName, sniff) {
			return p, true
		}
	}
	return nil, false
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func sortParsersByPriority(ps []Parser) {
	// Simple insertion sort: registries are small (tens of parsers), and this
	// keeps ties stable on insertion order without importing sort for one call site.
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0; j-- {
			a, b := ps[j-1].Metadata(), ps[j].Metadata()
			if a.Priority >= b.Priority {
				break
			}
			ps[j-1], ps[j] = ps[j], ps[j-1]
		}
	}
}
