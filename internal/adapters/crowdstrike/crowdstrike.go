// Package crowdstrike implements the response.Collector role against the
// CrowdStrike Falcon OAuth2 + devices/real-time-response APIs, ported from
// original_source's CrowdStrikeAdapter.
package crowdstrike

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/target/soc-core/internal/apperrors"
	"github.com/target/soc-core/internal/domain/model"
)

// maxResponseBodyBytes bounds how much of a response body is read into memory,
// matching the teacher jobrunner's truncation idiom.
const maxResponseBodyBytes = 4 * 1024

const adapterName = "crowdstrike"

var regionBaseURLs = map[string]string{
	"us-1":   "https://api.crowdstrike.com",
	"us-2":   "https://api.us-2.crowdstrike.com",
	"eu-1":   "https://api.eu-1.crowdstrike.com",
	"us-gov": "https://api.laggar.gcw.crowdstrike.com",
}

// Config configures the CrowdStrike client.
type Config struct {
	ClientID     string
	ClientSecret string
	// Region selects a default base URL from regionBaseURLs; ignored if BaseURL is set.
	Region     string
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Adapter is a response.Collector backed by the CrowdStrike Falcon API.
// The underlying *http.Client is created once and shared across calls,
// never dialed per-request, per the adapter pooling requirement.
type Adapter struct {
	cfg     Config
	client  *http.Client
	baseURL string

	mu           sync.Mutex
	accessToken  string
	tokenExpires time.Time
}

// New constructs a CrowdStrike Adapter. Falls back to a 30s-timeout client
// when cfg.HTTPClient is nil, matching the teacher's resolveHTTPClient default.
func New(cfg Config) *Adapter {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = regionBaseURLs[cfg.Region]
		if baseURL == "" {
			baseURL = regionBaseURLs["us-1"]
		}
	}
	return &Adapter{cfg: cfg, client: client, baseURL: baseURL}
}

// HealthCheck performs a token exchange to verify connectivity and credentials.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.ensureToken(ctx)
}

func (a *Adapter) ensureToken(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpires) {
		return nil
	}

	form := url.Values{
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/oauth2/token",
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("build oauth2 token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return adapterErr(apperrors.AdapterUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := readTruncated(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return adapterErr(apperrors.AdapterAuthFailed,
			fmt.Errorf("token exchange rejected: status %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode != http.StatusOK {
		return adapterErr(apperrors.AdapterUnavailable,
			fmt.Errorf("token exchange failed: status %d: %s", resp.StatusCode, body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return fmt.Errorf("decode oauth2 token response: %w", err)
	}

	a.accessToken = tokenResp.AccessToken
	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 1800
	}
	a.tokenExpires = time.Now().Add(time.Duration(expiresIn-60) * time.Second)
	return nil
}

func (a *Adapter) authHeader() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return "Bearer " + a.accessToken
}

func (a *Adapter) doJSON(ctx context.Context, method, path string, query url.Values, body any) (map[string]any, int, error) {
	if err := a.ensureToken(ctx); err != nil {
		return nil, 0, err
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	fullURL := a.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", a.authHeader())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, adapterErr(apperrors.AdapterUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := readTruncated(resp.Body)
	var decoded map[string]any
	if len(respBody) > 0 {
		_ = json.Unmarshal(respBody, &decoded)
	}
	return decoded, resp.StatusCode, nil
}

// IsolateHost contains a host via the devices-actions "contain" action.
func (a *Adapter) IsolateHost(ctx context.Context, params model.IsolateHostParams) (map[string]any, error) {
	return a.deviceAction(ctx, params.HostName, "contain")
}

// UnisolateHost lifts containment via the "lift_containment" action.
func (a *Adapter) UnisolateHost(ctx context.Context, hostName string) (map[string]any, error) {
	return a.deviceAction(ctx, hostName, "lift_containment")
}

func (a *Adapter) deviceAction(ctx context.Context, deviceID, actionName string) (map[string]any, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	query := url.Values{"action_name": {actionName}}
	decoded, status, err := a.doJSON(ctx, http.MethodPost, "/devices/entities/devices-actions/v2", query,
		map[string]any{"ids": []string{deviceID}})
	if err != nil {
		return nil, err
	}
	if status != http.StatusAccepted && status != http.StatusOK {
		return nil, adapterErr(apperrors.AdapterInvalid,
			fmt.Errorf("device action %q rejected with status %d", actionName, status))
	}
	return decoded, nil
}

// CollectEvidence opens a real-time-response session and runs the requested
// artifact commands, returning the RTR session_id and each command's decoded
// response under "commands".
func (a *Adapter) CollectEvidence(ctx context.Context, params model.CollectEvidenceParams) (map[string]any, error) {
	if params.HostName == "" {
		return nil, fmt.Errorf("host_name is required")
	}

	session, _, err := a.doJSON(ctx, http.MethodPost, "/real-time-response/entities/sessions/v1", nil,
		map[string]any{"device_id": params.HostName, "queue_offline": true})
	if err != nil {
		return nil, fmt.Errorf("open rtr session: %w", err)
	}
	sessionID, _ := extractResourceID(session)
	if sessionID == "" {
		return nil, adapterErr(apperrors.AdapterInvalid, fmt.Errorf("rtr session id missing from response"))
	}

	results := make([]map[string]any, 0, len(params.ArtifactSet))
	for _, artifact := range params.ArtifactSet {
		cmdResp, _, cmdErr := a.doJSON(ctx, http.MethodPost, "/real-time-response/entities/command/v1", nil,
			map[string]any{"session_id": sessionID, "base_command": artifact, "command_string": artifact})
		if cmdErr != nil {
			return nil, fmt.Errorf("run artifact command %q: %w", artifact, cmdErr)
		}
		results = append(results, cmdResp)
	}

	return map[string]any{"session_id": sessionID, "commands": results}, nil
}

func extractResourceID(resp map[string]any) (string, bool) {
	resources, ok := resp["resources"].([]any)
	if !ok || len(resources) == 0 {
		return "", false
	}
	switch first := resources[0].(type) {
	case string:
		return first, true
	case map[string]any:
		if id, ok := first["session_id"].(string); ok {
			return id, true
		}
	}
	return "", false
}

func adapterErr(kind apperrors.AdapterFailureKind, cause error) error {
	return &apperrors.AppError{Code: apperrors.ErrCodeAdapter, Message: adapterName + " adapter call failed", Cause: cause, Adapter: adapterName, AdapterKind: kind}
}

func readTruncated(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, maxResponseBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(body) > maxResponseBodyBytes {
		body = body[:maxResponseBodyBytes]
		_, _ = io.Copy(io.Discard, r)
	}
	return body, nil
}
