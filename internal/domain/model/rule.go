//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// RuleType represents the evaluation strategy a detection rule uses.
type RuleType string

const (
	RuleTypeThreshold    RuleType = "threshold"
	RuleTypeSequence     RuleType = "sequence"
	RuleTypeTemporalJoin RuleType = "temporal_join"
	RuleTypeAggregation  RuleType = "aggregation"
	RuleTypeSpike        RuleType = "spike"
	RuleTypeYara         RuleType = "yara"
)

// Valid returns true if the rule type is valid.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeThreshold, RuleTypeSequence, RuleTypeTemporalJoin, RuleTypeAggregation, RuleTypeSpike, RuleTypeYara:
		return true
	default:
		return false
	}
}

func (t RuleType) String() string { return string(t) }

// ComparisonOperator is used by threshold/aggregation rule conditions.
type ComparisonOperator string

const (
	OpGreaterThan        ComparisonOperator = "gt"
	OpGreaterThanOrEqual ComparisonOperator = "gte"
	OpLessThan           ComparisonOperator = "lt"
	OpLessThanOrEqual    ComparisonOperator = "lte"
	OpEqual              ComparisonOperator = "eq"
)

func (o ComparisonOperator) Valid() bool {
	switch o {
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual, OpEqual:
		return true
	default:
		return false
	}
}

// DetectionRule represents a persisted detection rule: its KQL-lite query,
// evaluation strategy, schedule, and alerting behavior.
type DetectionRule struct {
	ID            string          `json:"id"             db:"id"`
	Name          string          `json:"name"           db:"name"`
	Description   string          `json:"description"    db:"description"`
	RuleType      RuleType        `json:"rule_type"       db:"rule_type"`
	Query         string          `json:"query"           db:"query"`
	Config        json.RawMessage `json:"config"          db:"config"`
	Severity      AlertSeverity   `json:"severity"        db:"severity"`
	Enabled       bool            `json:"enabled"         db:"enabled"`
	Interval      time.Duration   `json:"interval"        db:"interval"`
	Lookback      time.Duration   `json:"lookback"        db:"lookback"`
	DedupWindow   time.Duration   `json:"dedup_window"    db:"dedup_window"`
	EntityMapping []string        `json:"entity_mapping"  db:"entity_mapping"`
	MitreTags     []string        `json:"mitre_tags,omitempty" db:"mitre_tags"`
	LastRunAt     *time.Time      `json:"last_run_at,omitempty" db:"last_run_at"`
	CreatedAt     time.Time       `json:"created_at"      db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"      db:"updated_at"`
}

// ThresholdConfig configures a RuleTypeThreshold rule.
type ThresholdConfig struct {
	Field    string             `json:"field"`
	Operator ComparisonOperator `json:"operator"`
	Count    int                `json:"count"`
	Window   time.Duration      `json:"window"`
}

// SequenceStep is one step of a RuleTypeSequence rule.
type SequenceStep struct {
	Query  string        `json:"query"`
	Within time.Duration `json:"within"`
}

// SequenceConfig configures a RuleTypeSequence rule: an ordered list of
// steps that must each match, in order, within the step's window of the
// previous step, joined on a shared entity key.
type SequenceConfig struct {
	Steps   []SequenceStep `json:"steps"`
	JoinOn  string         `json:"join_on"`
	MaxSpan time.Duration  `json:"max_span"`
}

// TemporalJoinConfig configures a RuleTypeTemporalJoin rule: two
// independent queries whose results are joined on a common key within a window.
type TemporalJoinConfig struct {
	LeftQuery  string        `json:"left_query"`
	RightQuery string        `json:"right_query"`
	JoinOn     string        `json:"join_on"`
	Window     time.Duration `json:"window"`
}

// AggregationConfig configures a RuleTypeAggregation rule: group by a field,
// compute an aggregate, and fire when the having condition is satisfied.
type AggregationConfig struct {
	GroupBy  string             `json:"group_by"`
	Aggregate string            `json:"aggregate"` // count, sum, avg, distinct_count
	Field    string             `json:"field,omitempty"`
	Operator ComparisonOperator `json:"operator"`
	Having   float64            `json:"having"`
	Window   time.Duration      `json:"window"`
}

// SpikeConfig configures a RuleTypeSpike rule: compare the current window's
// volume against a trailing baseline and fire on a relative increase.
type SpikeConfig struct {
	Field           string        `json:"field,omitempty"`
	CurrentWindow   time.Duration `json:"current_window"`
	BaselineWindow  time.Duration `json:"baseline_window"`
	MinMultiplier   float64       `json:"min_multiplier"`
	MinCurrentCount int           `json:"min_current_count"`
}

// YaraConfig configures a RuleTypeYara rule.
type YaraConfig struct {
	RuleFiles   []string `json:"rule_files,omitempty"`
	FileTypes   []string `json:"file_types,omitempty"`
	MaxFileSize int64    `json:"max_file_size,omitempty"`
}

// CreateRuleRequest represents a request to create a new detection rule.
type CreateRuleRequest struct {
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	RuleType      string          `json:"rule_type"`
	Query         string          `json:"query"`
	Config        json.RawMessage `json:"config,omitempty"`
	Severity      string          `json:"severity"`
	Enabled       *bool           `json:"enabled,omitempty"`
	Interval      time.Duration   `json:"interval,omitempty"`
	Lookback      time.Duration   `json:"lookback,omitempty"`
	DedupWindow   time.Duration   `json:"dedup_window,omitempty"`
	EntityMapping []string        `json:"entity_mapping,omitempty"`
	MitreTags     []string        `json:"mitre_tags,omitempty"`
}

// Normalize normalizes the CreateRuleRequest fields.
func (r *CreateRuleRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.RuleType = strings.TrimSpace(strings.ToLower(r.RuleType))
	r.Severity = strings.TrimSpace(strings.ToLower(r.Severity))
	if r.Interval <= 0 {
		r.Interval = time.Minute
	}
	if r.Lookback <= 0 {
		r.Lookback = 5 * time.Minute
	}
	if r.DedupWindow <= 0 {
		r.DedupWindow = 30 * time.Minute
	}
}

// Validate validates the CreateRuleRequest fields.
func (r *CreateRuleRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if !RuleType(r.RuleType).Valid() {
		return errors.New("invalid rule_type")
	}
	if r.Query == "" && RuleType(r.RuleType) != RuleTypeYara {
		return errors.New("query is required")
	}
	if !AlertSeverity(r.Severity).Valid() {
		return errors.New("invalid severity")
	}
	return nil
}

// UpdateRuleRequest represents a request to update an existing detection rule.
type UpdateRuleRequest struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Query       *string         `json:"query,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Severity    *string         `json:"severity,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty"`
	Interval    *time.Duration  `json:"interval,omitempty"`
}

// HasUpdates reports whether any field is set in UpdateRuleRequest.
func (r *UpdateRuleRequest) HasUpdates() bool {
	return r.Name != nil || r.Description != nil || r.Query != nil || r.Config != nil ||
		r.Severity != nil || r.Enabled != nil || r.Interval != nil
}

// Validate validates UpdateRuleRequest, ensuring at least one field is set and values are sane.
func (r *UpdateRuleRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Severity != nil && !AlertSeverity(*r.Severity).Valid() {
		return errors.New("invalid severity")
	}
	return nil
}

// RuleListOptions represents options for listing detection rules.
type RuleListOptions struct {
	RuleType *string `json:"rule_type,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}
