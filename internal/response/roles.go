// Package response implements the adapter abstraction: role-specific
// interfaces (Collector, SOAR, StorageAdapter, Notifier) and an Executor that dispatches
// ResponseAction records to the adapter registered for their Adapter name,
// grounded on the teacher's internal/service/alert_dispatcher.go dispatch
// idiom.
package response

import (
	"context"

	"github.com/target/soc-core/internal/domain/model"
)

// Collector is the role interface for EDR/endpoint adapters capable of
// isolating hosts and pulling forensic artifacts (e.g. CrowdStrike Falcon).
type Collector interface {
	// IsolateHost quarantines a host from the network, leaving management traffic intact.
	IsolateHost(ctx context.Context, params model.IsolateHostParams) (map[string]any, error)
	// UnisolateHost reverses IsolateHost.
	UnisolateHost(ctx context.Context, hostName string) (map[string]any, error)
	// CollectEvidence pulls the named artifact set from a host via a real-time response session.
	CollectEvidence(ctx context.Context, params model.CollectEvidenceParams) (map[string]any, error)
}

// SOAR is the role interface for workflow-orchestration adapters (e.g. Shuffle)
// that trigger playbooks for a response action; there is no cancel operation.
type SOAR interface {
	// BlockIP triggers the block-ip workflow.
	BlockIP(ctx context.Context, params model.BlockIPParams) (map[string]any, error)
	// DisableUser triggers the disable-user workflow.
	DisableUser(ctx context.Context, params model.DisableUserParams) (map[string]any, error)
	// TriggerWorkflow runs an arbitrary named workflow with the given inputs.
	TriggerWorkflow(ctx context.Context, workflowName string, inputs map[string]any) (map[string]any, error)
}

// StorageAdapter is the role interface for evidence-blob backends (local
// disk, S3-compatible object storage) used by CollectEvidence results.
type StorageAdapter interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Notifier is the role interface for ticketing/email side effects dispatched
// by response actions that don't touch an EDR or SOAR system directly.
type Notifier interface {
	CreateTicket(ctx context.Context, params model.CreateTicketParams) (map[string]any, error)
	SendEmail(ctx context.Context, params model.SendEmailParams) error
}
