package model

import (
	"encoding/json"
	"time"
)

// RuleExecutionOutcome is the terminal state of a single rule evaluation.
type RuleExecutionOutcome string

const (
	RuleExecutionMatched   RuleExecutionOutcome = "matched"
	RuleExecutionNoMatch   RuleExecutionOutcome = "no_match"
	RuleExecutionError     RuleExecutionOutcome = "error"
	RuleExecutionThrottled RuleExecutionOutcome = "throttled"
)

// RuleExecution is an append-only record of a single detection rule run,
// used for audit and debugging throughput. The scheduler's last-run tracking
// uses detection_rule.last_run_at instead.
type RuleExecution struct {
	ID           string               `json:"id"             db:"id"`
	RuleID       string               `json:"rule_id"        db:"rule_id"`
	Outcome      RuleExecutionOutcome `json:"outcome"        db:"outcome"`
	EventsScanned int                 `json:"events_scanned" db:"events_scanned"`
	AlertsFired  int                  `json:"alerts_fired"   db:"alerts_fired"`
	Error        *string              `json:"error,omitempty" db:"error"`
	DurationMS   int64                `json:"duration_ms"    db:"duration_ms"`
	WindowStart  time.Time            `json:"window_start"   db:"window_start"`
	WindowEnd    time.Time            `json:"window_end"     db:"window_end"`
	Result       json.RawMessage      `json:"result,omitempty" db:"result"`
	CreatedAt    time.Time            `json:"created_at"     db:"created_at"`
}
