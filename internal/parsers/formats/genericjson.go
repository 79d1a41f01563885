package formats

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/parsers"
)

// genericJSONTimestampFields lists well-known timestamp keys checked, in
// order, against the record's top-level keys; nested objects are not searched.
var genericJSONTimestampFields = []string{
	"@timestamp", "timestamp", "time", "datetime", "date",
	"eventTime", "EventTime", "createdDateTime", "activityDateTime",
	"timeGenerated", "TimeGenerated", "eventTimestamp", "created_at", "created", "ts", "_time",
}

var genericJSONTimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
}

// GenericJSONParser parses JSON or JSON Lines (one object per line) log
// files, mapping well-known timestamp, user, source-IP and host fields to ECS
// and carrying the whole record through as raw context; no outcome is set.
type GenericJSONParser struct{}

var _ parsers.Parser = GenericJSONParser{}

func (GenericJSONParser) Metadata() model.ParserMetadata {
	return model.ParserMetadata{
		Name:                "generic_json",
		Category:            model.ParserCategoryLogs,
		Description:         "Generic JSON/JSONL log parser with ECS field mapping",
		SupportedExtensions: []string{".json", ".jsonl", ".ndjson"},
		SupportedMimeTypes:  []string{"application/json", "application/x-ndjson"},
		Priority:            10, // lowest priority: acts as a catch-all fallback
	}
}

func (GenericJSONParser) CanParse(fileName string, sniff []byte) bool {
	lower := strings.ToLower(fileName)
	if strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".jsonl") || strings.HasSuffix(lower, ".ndjson") {
		return true
	}
	trimmed := strings.TrimSpace(string(sniff))
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

func (GenericJSONParser) Parse(ctx context.Context, r io.Reader, sourceName string) iter.Seq2[*model.ParsedEvent, error] {
	return func(yield func(*model.ParsedEvent, error) bool) {
		br := bufio.NewReaderSize(r, 64*1024)
		first, err := br.Peek(1)
		if err != nil && err != io.EOF {
			yield(nil, fmt.Errorf("generic_json: peek: %w", err))
			return
		}
		if len(first) > 0 && first[0] == '[' {
			yieldJSONArray(ctx, br, sourceName, yield)
			return
		}
		yieldJSONLines(ctx, br, sourceName, yield)
	}
}

func yieldJSONArray(ctx context.Context, r io.Reader, sourceName string, yield func(*model.ParsedEvent, error) bool) {
	var records []map[string]any
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		yield(nil, fmt.Errorf("generic_json: decode array: %w", err))
		return
	}
	for i, rec := range records {
		if ctx.Err() != nil {
			yield(nil, ctx.Err())
			return
		}
		if !yield(buildGenericJSONEvent(rec, sourceName, i+1), nil) {
			return
		}
	}
}

func yieldJSONLines(ctx context.Context, r io.Reader, sourceName string, yield func(*model.ParsedEvent, error) bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			yield(nil, ctx.Err())
			return
		}
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue // skip malformed lines rather than aborting the whole source
		}
		if !yield(buildGenericJSONEvent(rec, sourceName, lineNum), nil) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		yield(nil, fmt.Errorf("generic_json: scan: %w", err))
	}
}

func buildGenericJSONEvent(rec map[string]any, sourceName string, line int) *model.ParsedEvent {
	timestamp := extractGenericJSONTimestamp(rec)
	raw := make(map[string]any, len(rec))
	for k, v := range rec {
		raw[k] = v
	}

	ev := &model.ParsedEvent{
		Timestamp:     timestamp,
		Message:       genericJSONMessage(rec),
		SourceType:    "generic_json",
		SourceFile:    sourceName,
		SourceLine:    line,
		EventKind:     "event",
		EventCategory: []string{"generic"},
		EventType:     []string{"info"},
		EventAction:   "log_record",
		Raw:           raw,
	}
	if v, ok := stringField(rec, "user", "userPrincipalName", "UserId", "actor"); ok {
		ev.UserName = &v
	}
	if v, ok := stringField(rec, "sourceIPAddress", "ipAddress", "client_ip", "src_ip"); ok {
		ev.SourceIP = &v
	}
	if v, ok := stringField(rec, "hostname", "host", "ComputerName"); ok {
		ev.HostName = &v
	}
	return ev
}

func genericJSONMessage(rec map[string]any) string {
	for _, k := range []string{"message", "msg", "eventName", "operationName", "Operation"} {
		if v, ok := rec[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func stringField(rec map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := rec[k].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func extractGenericJSONTimestamp(rec map[string]any) time.Time {
	for _, field := range genericJSONTimestampFields {
		raw, ok := rec[field]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		for _, layout := range genericJSONTimestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Now().UTC()
}
