package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/target/soc-core/internal/detection"
	"github.com/target/soc-core/internal/domain/model"
)

// TemporalJoinEvaluator fires when a left-query event and a right-query
// event sharing a join key occur within Window of each other, e.g. a VPN
// login followed by a privileged action from an unexpected location.
type TemporalJoinEvaluator struct{}

func (TemporalJoinEvaluator) Evaluate(ctx context.Context, in detection.EvalInput) (*detection.Outcome, error) {
	var cfg model.TemporalJoinConfig
	if err := json.Unmarshal(in.Rule.Config, &cfg); err != nil {
		return nil, fmt.Errorf("correlation: invalid temporal_join config: %w", err)
	}

	now := in.Now
	lookback := in.Rule.Lookback
	if lookback <= 0 {
		lookback = 30 * time.Minute
	}
	windowStart := now.Add(-lookback)

	left, leftTotal, err := searchStep(ctx, in.Search, in.Indices, cfg.LeftQuery, windowStart, now)
	if err != nil {
		return nil, err
	}
	right, rightTotal, err := searchStep(ctx, in.Search, in.Indices, cfg.RightQuery, windowStart, now)
	if err != nil {
		return nil, err
	}

	rightByKey := make(map[string][]map[string]any)
	for _, r := range right {
		key := fieldString(r, cfg.JoinOn)
		if key == "" {
			continue
		}
		rightByKey[key] = append(rightByKey[key], r)
	}

	out := &detection.Outcome{EventsScanned: leftTotal + rightTotal}
	seenPairs := make(map[string]bool)

	for _, l := range left {
		key := fieldString(l, cfg.JoinOn)
		if key == "" {
			continue
		}
		leftTime, ok := eventTimestamp(l)
		if !ok {
			continue
		}
		for _, r := range rightByKey[key] {
			rightTime, ok := eventTimestamp(r)
			if !ok {
				continue
			}
			delta := rightTime.Sub(leftTime)
			if delta < 0 {
				delta = -delta
			}
			if delta > cfg.Window {
				continue
			}

			pairKey := key + "|" + leftTime.String() + "|" + rightTime.String()
			if seenPairs[pairKey] {
				continue
			}
			seenPairs[pairKey] = true

			out.Matched = true
			hosts, users, ips := entitiesFrom([]map[string]any{l, r})
			out.Candidates = append(out.Candidates, detection.AlertCandidate{
				Fingerprint: sequenceFingerprint(in.Rule.ID, key),
				Title:       in.Rule.Name,
				Description: fmt.Sprintf("correlated events for %s=%q within %s", cfg.JoinOn, key, cfg.Window),
				Entities:    model.EntityFacets{Hosts: hosts, Users: users, IPs: ips},
				EventRefs:   eventRefs([]map[string]any{l, r}),
				FiredAt:     rightTime,
			})
		}
	}

	return out, nil
}
