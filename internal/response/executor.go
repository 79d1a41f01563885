package response

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/soc-core/internal/apperrors"
	"github.com/target/soc-core/internal/audit"
	"github.com/target/soc-core/internal/domain/model"
)

// maxResultBytes bounds how much of an adapter's result payload is persisted,
// mirroring the teacher jobrunner's maxResponseBodyBytes truncation idiom.
const maxResultBytes = 4 * 1024

// Repository persists ResponseAction lifecycle transitions.
type Repository interface {
	MarkRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, result json.RawMessage) error
	Fail(ctx context.Context, id string, errMsg string) error
	Skip(ctx context.Context, id string, reason string) error
}

var (
	// ErrMissingParams indicates a response action was dispatched with an empty params payload.
	ErrMissingParams = fmt.Errorf("response action params required")
	// ErrNoCapableAdapter indicates no registered adapter can perform the action's type.
	ErrNoCapableAdapter = fmt.Errorf("no adapter capable of this action is configured")
)

// Executor dispatches ResponseAction records to the adapter registered under
// their Adapter name, falling back to any adapter of the right role when
// Adapter is unset. Every dispatch attempt is preceded by an AuditLog entry,
// win or lose, per the response executor contract.
type Executor struct {
	Repo       Repository
	Audit      audit.Recorder
	Collectors map[string]Collector
	SOARs      map[string]SOAR
	Notifiers  map[string]Notifier
	Logger     *slog.Logger
}

// dispatchParams groups Execute's working state to keep helper signatures short.
type dispatchParams struct {
	action *model.ResponseAction
	logger *slog.Logger
}

// Execute runs the response executor contract for a single action: validate,
// audit, transition to running, dispatch, then transition to a terminal state.
func (e *Executor) Execute(ctx context.Context, action *model.ResponseAction) error {
	if action == nil {
		return fmt.Errorf("execute: action is nil")
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("response_action_id", action.ID, "type", action.Type, "adapter", action.Adapter)

	if len(action.Params) == 0 {
		e.recordAudit(ctx, action, audit.ActionResponseActionFailed, ErrMissingParams.Error())
		return ErrMissingParams
	}

	e.recordAudit(ctx, action, audit.ActionResponseActionDispatched, "")

	if err := e.Repo.MarkRunning(ctx, action.ID); err != nil {
		return fmt.Errorf("mark response action running: %w", err)
	}
	action.Status = model.ResponseActionRunning
	action.StartedAt = timePtr(time.Now().UTC())

	dp := dispatchParams{action: action, logger: logger}
	result, dispatchErr := e.dispatch(ctx, dp)
	if dispatchErr != nil {
		logger.ErrorContext(ctx, "response action dispatch failed", "error", dispatchErr)
		e.recordAudit(ctx, action, audit.ActionResponseActionFailed, dispatchErr.Error())
		if failErr := e.Repo.Fail(ctx, action.ID, dispatchErr.Error()); failErr != nil {
			return fmt.Errorf("record response action failure: %w", failErr)
		}
		return dispatchErr
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		payload = json.RawMessage(`{}`)
	}
	if len(payload) > maxResultBytes {
		payload = append(payload[:maxResultBytes], []byte("...truncated")...)
	}

	logger.InfoContext(ctx, "response action dispatched successfully")
	e.recordAudit(ctx, action, audit.ActionResponseActionSucceeded, "")
	if err := e.Repo.Complete(ctx, action.ID, payload); err != nil {
		return fmt.Errorf("record response action success: %w", err)
	}
	return nil
}

func (e *Executor) dispatch(ctx context.Context, dp dispatchParams) (map[string]any, error) {
	action := dp.action
	switch action.Type {
	case model.ResponseActionIsolateHost:
		return e.dispatchIsolateHost(ctx, action)
	case model.ResponseActionBlockIP:
		return e.dispatchBlockIP(ctx, action)
	case model.ResponseActionDisableUser:
		return e.dispatchDisableUser(ctx, action)
	case model.ResponseActionCollectEvidence:
		return e.dispatchCollectEvidence(ctx, action)
	case model.ResponseActionCreateTicket:
		return e.dispatchCreateTicket(ctx, action)
	case model.ResponseActionSendEmail:
		return e.dispatchSendEmail(ctx, action)
	case model.ResponseActionRunQuery, model.ResponseActionEnrichIOC:
		// No adapter role performs these action types. Execute handles
		// ErrNoCapableAdapter like any other dispatch error: the action is
		// marked failed and this result map is not persisted.
		return map[string]any{"status": "manual_action_required"}, ErrNoCapableAdapter
	default:
		return nil, fmt.Errorf("unsupported response action type %q", action.Type)
	}
}

func (e *Executor) dispatchIsolateHost(ctx context.Context, action *model.ResponseAction) (map[string]any, error) {
	var params model.IsolateHostParams
	if err := json.Unmarshal(action.Params, &params); err != nil {
		return nil, fmt.Errorf("decode isolate_host params: %w", err)
	}
	if c, ok := e.collectorFor(action.Adapter); ok {
		return c.IsolateHost(ctx, params)
	}
	if s, ok := e.soarFor(action.Adapter); ok {
		return s.TriggerWorkflow(ctx, "host_isolation", map[string]any{"hostname": params.HostName, "reason": params.Reason, "action": "isolate"})
	}
	return nil, ErrNoCapableAdapter
}

func (e *Executor) dispatchBlockIP(ctx context.Context, action *model.ResponseAction) (map[string]any, error) {
	var params model.BlockIPParams
	if err := json.Unmarshal(action.Params, &params); err != nil {
		return nil, fmt.Errorf("decode block_ip params: %w", err)
	}
	if s, ok := e.soarFor(action.Adapter); ok {
		return s.BlockIP(ctx, params)
	}
	return nil, ErrNoCapableAdapter
}

func (e *Executor) dispatchDisableUser(ctx context.Context, action *model.ResponseAction) (map[string]any, error) {
	var params model.DisableUserParams
	if err := json.Unmarshal(action.Params, &params); err != nil {
		return nil, fmt.Errorf("decode disable_user params: %w", err)
	}
	if s, ok := e.soarFor(action.Adapter); ok {
		return s.DisableUser(ctx, params)
	}
	return nil, ErrNoCapableAdapter
}

func (e *Executor) dispatchCollectEvidence(ctx context.Context, action *model.ResponseAction) (map[string]any, error) {
	var params model.CollectEvidenceParams
	if err := json.Unmarshal(action.Params, &params); err != nil {
		return nil, fmt.Errorf("decode collect_evidence params: %w", err)
	}
	if c, ok := e.collectorFor(action.Adapter); ok {
		return c.CollectEvidence(ctx, params)
	}
	return nil, ErrNoCapableAdapter
}

func (e *Executor) dispatchCreateTicket(ctx context.Context, action *model.ResponseAction) (map[string]any, error) {
	var params model.CreateTicketParams
	if err := json.Unmarshal(action.Params, &params); err != nil {
		return nil, fmt.Errorf("decode create_ticket params: %w", err)
	}
	if n, ok := e.notifierFor(action.Adapter); ok {
		return n.CreateTicket(ctx, params)
	}
	return nil, ErrNoCapableAdapter
}

func (e *Executor) dispatchSendEmail(ctx context.Context, action *model.ResponseAction) (map[string]any, error) {
	var params model.SendEmailParams
	if err := json.Unmarshal(action.Params, &params); err != nil {
		return nil, fmt.Errorf("decode send_email params: %w", err)
	}
	n, ok := e.notifierFor(action.Adapter)
	if !ok {
		return nil, ErrNoCapableAdapter
	}
	if err := n.SendEmail(ctx, params); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true}, nil
}

// collectorFor returns the named collector or, when name is empty, whichever
// registered collector map iteration yields first; registration order is not
// tracked, so with several collectors the choice is not deterministic.
func (e *Executor) collectorFor(name string) (Collector, bool) {
	if name != "" {
		c, ok := e.Collectors[name]
		return c, ok
	}
	for _, c := range e.Collectors {
		return c, true
	}
	return nil, false
}

func (e *Executor) soarFor(name string) (SOAR, bool) {
	if name != "" {
		s, ok := e.SOARs[name]
		return s, ok
	}
	for _, s := range e.SOARs {
		return s, true
	}
	return nil, false
}

func (e *Executor) notifierFor(name string) (Notifier, bool) {
	if name != "" {
		n, ok := e.Notifiers[name]
		return n, ok
	}
	for _, n := range e.Notifiers {
		return n, true
	}
	return nil, false
}

func (e *Executor) recordAudit(ctx context.Context, action *model.ResponseAction, eventAction, detail string) {
	if e.Audit == nil {
		return
	}
	entry := audit.Entry{
		ActorType:  audit.ActorTypeSystem,
		ActorID:    "response-executor",
		Action:     eventAction,
		EntityType: "response_action",
		EntityID:   action.ID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	if action.Automatic {
		entry.ActorType = audit.ActorTypeRule
	} else if action.RequestedBy != "" {
		entry.ActorType = audit.ActorTypeUser
		entry.ActorID = action.RequestedBy
	}
	if err := e.Audit.Record(ctx, entry); err != nil && e.Logger != nil {
		e.Logger.Warn("failed to record audit entry", "error", err, "response_action_id", action.ID)
	}
}

func timePtr(t time.Time) *time.Time { return &t }

// ClassifyAdapterError wraps an adapter-layer error as an apperrors.AppError
// with the appropriate AdapterFailureKind so internal/retry can decide
// whether the failure is worth retrying. Nothing in this module calls it: the
// crowdstrike and shuffle adapters build the same AppError shape with their
// own adapterErr helpers.
func ClassifyAdapterError(adapterName string, kind apperrors.AdapterFailureKind, err error) error {
	return &apperrors.AppError{
		Code:        apperrors.ErrCodeAdapter,
		Message:     fmt.Sprintf("%s adapter call failed", adapterName),
		Cause:       err,
		Adapter:     adapterName,
		AdapterKind: kind,
	}
}
