package jobs

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/ecs"
	"github.com/target/soc-core/internal/parsers"
	"github.com/target/soc-core/internal/search"
)

// HandlerFunc processes one ParsingJob. A returned error marks the job
// failed (subject to retry per its MaxRetries); a nil error marks it
// completed with job.EventsParsed as the result count.
type HandlerFunc func(ctx context.Context, job *model.ParsingJob) error

// sniffWindow is how many leading bytes a parser gets to sniff before
// committing to a CanParse match.
const sniffWindow = 512

// EvidenceFetcher opens the raw bytes behind a ParsingJob's source URI.
// Concrete implementations live under internal/adapters/storage (S3 and
// local disk); tests can supply an in-memory stub.
type EvidenceFetcher interface {
	Fetch(ctx context.Context, sourceURI string) (io.ReadCloser, error)
}

// ParseEvidencePayload is the JSON shape of a JobTypeParseEvidence job's
// Payload field.
type ParseEvidencePayload struct {
	SourceURI  string `json:"source_uri"`
	ParserHint string `json:"parser_hint,omitempty"`
	Index      string `json:"index,omitempty"`
}

// IndexEventsPayload is the JSON shape of a JobTypeIndexEvents job's
// Payload field: a batch of already-normalized ECS documents to bulk-index.
type IndexEventsPayload struct {
	Index     string              `json:"index"`
	Documents []model.ECSDocument `json:"documents"`
}

const defaultEventsIndex = "ecs-events"

// ParseEvidenceHandler resolves a parser for the fetched artifact, streams
// it into ParsedEvents, projects each into an ECS document, and bulk-indexes
// the result directly -- mirroring the original pipeline's parse-then-index
// single pass rather than staging a second job for small artifacts.
type ParseEvidenceHandler struct {
	Fetcher    EvidenceFetcher
	Registry   *parsers.Registry
	Normalizer *ecs.Normalizer
	Search     search.Service
}

// Handle implements HandlerFunc.
func (h *ParseEvidenceHandler) Handle(ctx context.Context, job *model.ParsingJob) error {
	var payload ParseEvidencePayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode parse_evidence payload: %w", err)
		}
	}
	if payload.SourceURI == "" {
		payload.SourceURI = job.SourceURI
	}
	if payload.SourceURI == "" {
		return fmt.Errorf("parse_evidence job %s has no source URI", job.ID)
	}
	index := payload.Index
	if index == "" {
		index = defaultEventsIndex
	}

	raw, err := h.Fetcher.Fetch(ctx, payload.SourceURI)
	if err != nil {
		return fmt.Errorf("fetch evidence: %w", err)
	}
	defer raw.Close()

	br := bufio.NewReaderSize(raw, sniffWindow)
	sniff, _ := br.Peek(sniffWindow)

	fileName := filepath.Base(payload.SourceURI)
	var parser parsers.Parser
	if payload.ParserHint != "" {
		p, ok := h.Registry.Get(payload.ParserHint)
		if !ok {
			return fmt.Errorf("parse_evidence job %s: unknown parser hint %q", job.ID, payload.ParserHint)
		}
		parser = p
	} else {
		p, ok := h.Registry.Resolve(fileName, sniff)
		if !ok {
			return fmt.Errorf("parse_evidence job %s: no parser matches %q", job.ID, fileName)
		}
		parser = p
	}

	meta := parser.Metadata()
	var actions []search.BulkAction
	var parsed int
	for ev, parseErr := range parser.Parse(ctx, br, payload.SourceURI) {
		if parseErr != nil {
			return fmt.Errorf("parse %s: %w", payload.SourceURI, parseErr)
		}
		doc := h.Normalizer.Normalize(ev, meta.Name)
		if doc.ID == "" {
			doc.ID = documentID(payload.SourceURI, parsed)
		}
		source, err := ecsDocToMap(doc)
		if err != nil {
			return fmt.Errorf("encode ecs document: %w", err)
		}
		actions = append(actions, search.BulkAction{Index: index, ID: doc.ID, Source: source})
		parsed++
	}

	job.EventsParsed = parsed
	if h.Search == nil || len(actions) == 0 {
		return nil
	}
	result, err := h.Search.Bulk(ctx, actions)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("bulk index: %d errors, first: %s", len(result.Errors), result.Errors[0])
	}
	return nil
}

// IndexEventsHandler bulk-indexes a batch of already-normalized ECS
// documents, used when parsing and indexing are split across two jobs
// (e.g. a parse step that fans out a large artifact into multiple
// indexing batches).
type IndexEventsHandler struct {
	Search search.Service
}

// Handle implements HandlerFunc.
func (h *IndexEventsHandler) Handle(ctx context.Context, job *model.ParsingJob) error {
	var payload IndexEventsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode index_events payload: %w", err)
	}
	index := payload.Index
	if index == "" {
		index = defaultEventsIndex
	}

	actions := make([]search.BulkAction, 0, len(payload.Documents))
	for i := range payload.Documents {
		doc := payload.Documents[i]
		if doc.ID == "" {
			doc.ID = documentID(job.ID, i)
		}
		source, err := ecsDocToMap(&doc)
		if err != nil {
			return fmt.Errorf("encode ecs document: %w", err)
		}
		actions = append(actions, search.BulkAction{Index: index, ID: doc.ID, Source: source})
	}

	result, err := h.Search.Bulk(ctx, actions)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	job.EventsParsed = result.Success
	if len(result.Errors) > 0 {
		return fmt.Errorf("bulk index: %d errors, first: %s", len(result.Errors), result.Errors[0])
	}
	return nil
}

// ecsDocToMap projects an ECSDocument to the generic map shape the search
// façade indexes, by round-tripping through its JSON tags rather than
// hand-maintaining a parallel field list.
func ecsDocToMap(doc *model.ECSDocument) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func documentID(sourceURI string, seq int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%d", sourceURI, seq))
	return hex.EncodeToString(sum[:])[:24]
}
