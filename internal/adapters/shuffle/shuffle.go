// Package shuffle implements the response.SOAR role against the Shuffle
// workflow-automation REST API, ported from original_source's ShuffleAdapter.
package shuffle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/target/soc-core/internal/apperrors"
	"github.com/target/soc-core/internal/domain/model"
)

const adapterName = "shuffle"
const maxResponseBodyBytes = 4 * 1024

// Workflow names the BlockIP/DisableUser/IsolateHost convenience methods
// trigger; a Shuffle deployment must expose workflows under these names.
const (
	WorkflowHostIsolation = "host_isolation"
	WorkflowBlockIP       = "block_ip"
	WorkflowDisableUser   = "disable_user"
)

// Config configures the Shuffle client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Adapter is a response.SOAR backed by the Shuffle workflow API. The
// underlying *http.Client is shared across calls, never dialed per-request.
type Adapter struct {
	cfg     Config
	client  *http.Client
	baseURL string
}

// New constructs a Shuffle Adapter.
func New(cfg Config) *Adapter {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Adapter{cfg: cfg, client: client, baseURL: cfg.BaseURL}
}

// HealthCheck checks Shuffle API connectivity.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.request(ctx, http.MethodGet, "/api/v1/health", nil)
	return err
}

func (a *Adapter) request(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode shuffle request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build shuffle request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, adapterErr(apperrors.AdapterUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, readErr := readTruncated(resp.Body)
	if readErr != nil {
		return nil, readErr
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, adapterErr(apperrors.AdapterAuthFailed, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, adapterErr(apperrors.AdapterRateLimited, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, adapterErr(apperrors.AdapterUnavailable, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, adapterErr(apperrors.AdapterInvalid, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	var decoded map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return nil, fmt.Errorf("decode shuffle response: %w", err)
		}
	}
	return decoded, nil
}

// TriggerWorkflow executes the named Shuffle workflow with the given inputs.
func (a *Adapter) TriggerWorkflow(ctx context.Context, workflowName string, inputs map[string]any) (map[string]any, error) {
	if workflowName == "" {
		return nil, fmt.Errorf("workflow name is required")
	}
	argument, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("encode workflow arguments: %w", err)
	}
	payload := map[string]any{
		"execution_argument": string(argument),
		"execution_source":   "soc-core",
	}
	result, err := a.request(ctx, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%s/execute", workflowName), payload)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BlockIP triggers the configured IP-blocking workflow.
func (a *Adapter) BlockIP(ctx context.Context, params model.BlockIPParams) (map[string]any, error) {
	return a.TriggerWorkflow(ctx, WorkflowBlockIP, map[string]any{
		"ip_address": params.IP,
		"reason":     params.Reason,
		"action":     "block",
	})
}

// DisableUser triggers the configured user-disable workflow.
func (a *Adapter) DisableUser(ctx context.Context, params model.DisableUserParams) (map[string]any, error) {
	return a.TriggerWorkflow(ctx, WorkflowDisableUser, map[string]any{
		"username":    params.UserName,
		"user_domain": params.UserDomain,
		"reason":      params.Reason,
		"action":      "disable",
	})
}

// IsolateHost triggers the host-isolation workflow. It is not part of the
// response.SOAR interface; the executor's SOAR fallback for isolate_host
// triggers the same workflow and inputs through TriggerWorkflow.
func (a *Adapter) IsolateHost(ctx context.Context, params model.IsolateHostParams) (map[string]any, error) {
	return a.TriggerWorkflow(ctx, WorkflowHostIsolation, map[string]any{
		"hostname": params.HostName,
		"reason":   params.Reason,
		"action":   "isolate",
	})
}

func adapterErr(kind apperrors.AdapterFailureKind, cause error) error {
	return &apperrors.AppError{Code: apperrors.ErrCodeAdapter, Message: adapterName + " adapter call failed", Cause: cause, Adapter: adapterName, AdapterKind: kind}
}

func readTruncated(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, maxResponseBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read shuffle response body: %w", err)
	}
	if len(body) > maxResponseBodyBytes {
		body = body[:maxResponseBodyBytes]
		_, _ = io.Copy(io.Discard, r)
	}
	return body, nil
}
