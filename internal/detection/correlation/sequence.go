// Package correlation implements the multi-query detection strategies —
// ordered event sequences and cross-query temporal joins — that need more
// than a single windowed search to evaluate, kept apart from
// internal/detection's single-query threshold/aggregation/spike strategies.
package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/target/soc-core/internal/detection"
	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/kql"
	"github.com/target/soc-core/internal/search"
)

func searchStep(ctx context.Context, svc search.Service, indices []string, query string, start, end time.Time) ([]map[string]any, int, error) {
	dsl, _ := kql.CompileQuery(query)
	windowed := kql.DSL{"bool": kql.DSL{"must": []kql.DSL{
		dsl,
		{"range": kql.DSL{"@timestamp": kql.DSL{"gte": start.Format(time.RFC3339), "lte": end.Format(time.RFC3339)}}},
	}}}
	res, err := svc.Search(ctx, search.SearchRequest{Indices: indices, Query: windowed, Size: 10000, Sort: []search.SortClause{{Field: "@timestamp", Ascending: true}}})
	if err != nil {
		return nil, 0, fmt.Errorf("correlation: search step: %w", err)
	}
	out := make([]map[string]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, hit.Source)
	}
	return out, res.Total, nil
}

func fieldString(source map[string]any, path string) string {
	var cur any = source
	for _, p := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		v, ok := m[p]
		if !ok {
			return ""
		}
		cur = v
	}
	s, _ := cur.(string)
	return s
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

func eventTimestamp(source map[string]any) (time.Time, bool) {
	s := fieldString(source, "@timestamp")
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SequenceEvaluator fires when every step's query matches, in order, each
// within its own step window of the previous step's match, joined on a
// shared entity key, and the whole chain fits within MaxSpan.
type SequenceEvaluator struct{}

func (SequenceEvaluator) Evaluate(ctx context.Context, in detection.EvalInput) (*detection.Outcome, error) {
	var cfg model.SequenceConfig
	if err := json.Unmarshal(in.Rule.Config, &cfg); err != nil {
		return nil, fmt.Errorf("correlation: invalid sequence config: %w", err)
	}
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("correlation: sequence rule %q has no steps", in.Rule.ID)
	}

	now := in.Now
	lookback := in.Rule.Lookback
	if lookback <= 0 {
		lookback = 30 * time.Minute
	}
	windowStart := now.Add(-lookback)

	first, total, err := searchStep(ctx, in.Search, in.Indices, cfg.Steps[0].Query, windowStart, now)
	if err != nil {
		return nil, err
	}
	scanned := total

	out := &detection.Outcome{}
	for _, seed := range first {
		seedTime, ok := eventTimestamp(seed)
		if !ok {
			continue
		}
		joinValue := fieldString(seed, cfg.JoinOn)
		if joinValue == "" {
			continue
		}

		chain := []map[string]any{seed}
		cursor := seedTime
		matched := true
		for _, step := range cfg.Steps[1:] {
			stepEnd := cursor.Add(step.Within)
			if cfg.MaxSpan > 0 && stepEnd.After(seedTime.Add(cfg.MaxSpan)) {
				stepEnd = seedTime.Add(cfg.MaxSpan)
			}
			candidates, subTotal, stepErr := searchStep(ctx, in.Search, in.Indices, step.Query, cursor, stepEnd)
			if stepErr != nil {
				return nil, stepErr
			}
			scanned += subTotal

			var next map[string]any
			for _, c := range candidates {
				if fieldString(c, cfg.JoinOn) != joinValue {
					continue
				}
				ts, ok := eventTimestamp(c)
				if !ok || ts.Before(cursor) {
					continue
				}
				next = c
				cursor = ts
				break
			}
			if next == nil {
				matched = false
				break
			}
			chain = append(chain, next)
		}

		if !matched {
			continue
		}

		out.Matched = true
		hosts, users, ips := entitiesFrom(chain)
		out.Candidates = append(out.Candidates, detection.AlertCandidate{
			Fingerprint: sequenceFingerprint(in.Rule.ID, joinValue),
			Title:       in.Rule.Name,
			Description: fmt.Sprintf("sequence of %d steps matched for %s=%q", len(cfg.Steps), cfg.JoinOn, joinValue),
			Entities:    model.EntityFacets{Hosts: hosts, Users: users, IPs: ips},
			EventRefs:   eventRefs(chain),
			FiredAt:     cursor,
		})
	}

	out.EventsScanned = scanned
	return out, nil
}

func entitiesFrom(sources []map[string]any) (hosts, users, ips []string) {
	seen := map[string]map[string]bool{"host": {}, "user": {}, "ip": {}}
	add := func(bucket *[]string, kind, v string) {
		if v == "" || seen[kind][v] {
			return
		}
		seen[kind][v] = true
		*bucket = append(*bucket, v)
	}
	for _, s := range sources {
		add(&hosts, "host", fieldString(s, "host.name"))
		add(&users, "user", fieldString(s, "user.name"))
		add(&ips, "ip", fieldString(s, "source.ip"))
		add(&ips, "ip", fieldString(s, "destination.ip"))
	}
	return hosts, users, ips
}

func eventRefs(sources []map[string]any) []string {
	refs := make([]string, 0, len(sources))
	for _, s := range sources {
		if id := fieldString(s, "_id"); id != "" {
			refs = append(refs, id)
		}
	}
	sort.Strings(refs)
	return refs
}

func sequenceFingerprint(ruleID, joinValue string) string {
	return "seq:" + ruleID + ":" + joinValue
}
