package config

import "testing"

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - detection-engine",
			input: "detection-engine",
			expected: map[ServiceMode]bool{
				ServiceModeDetectionEngine: true,
			},
		},
		{
			name:  "single service - parsing-worker",
			input: "parsing-worker",
			expected: map[ServiceMode]bool{
				ServiceModeParsingWorker: true,
			},
		},
		{
			name:  "single service - reaper",
			input: "reaper",
			expected: map[ServiceMode]bool{
				ServiceModeReaper: true,
			},
		},
		{
			name:  "multiple services",
			input: "detection-engine,parsing-worker",
			expected: map[ServiceMode]bool{
				ServiceModeDetectionEngine: true,
				ServiceModeParsingWorker:   true,
			},
		},
		{
			name:  "all services",
			input: "detection-engine,parsing-worker,index-worker,enrichment-worker,response-runner,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeDetectionEngine:  true,
				ServiceModeParsingWorker:    true,
				ServiceModeIndexWorker:      true,
				ServiceModeEnrichmentWorker: true,
				ServiceModeResponseRunner:   true,
				ServiceModeReaper:           true,
			},
		},
		{
			name:  "services with spaces",
			input: " detection-engine , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeDetectionEngine: true,
				ServiceModeReaper:          true,
			},
		},
		{
			name:  "duplicate services",
			input: "reaper,reaper,detection-engine",
			expected: map[ServiceMode]bool{
				ServiceModeReaper:          true,
				ServiceModeDetectionEngine: true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "detection-engine,invalid-service",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name                 string
		services             string
		expectedDetection    bool
		expectedParsing      bool
		expectedResponse     bool
		expectedReaper       bool
	}{
		{
			name:              "detection engine only",
			services:          "detection-engine",
			expectedDetection: true,
		},
		{
			name:            "detection and parsing",
			services:        "detection-engine,parsing-worker",
			expectedDetection: true,
			expectedParsing: true,
		},
		{
			name:             "response runner and reaper",
			services:         "response-runner,reaper",
			expectedResponse: true,
			expectedReaper:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{ServicesConfig: ServicesConfig{Services: tt.services}}

			if cfg.IsDetectionEngineEnabled() != tt.expectedDetection {
				t.Errorf("IsDetectionEngineEnabled(): expected %v, got %v", tt.expectedDetection, cfg.IsDetectionEngineEnabled())
			}
			if cfg.IsParsingWorkerEnabled() != tt.expectedParsing {
				t.Errorf("IsParsingWorkerEnabled(): expected %v, got %v", tt.expectedParsing, cfg.IsParsingWorkerEnabled())
			}
			if cfg.IsResponseRunnerEnabled() != tt.expectedResponse {
				t.Errorf("IsResponseRunnerEnabled(): expected %v, got %v", tt.expectedResponse, cfg.IsResponseRunnerEnabled())
			}
			if cfg.IsReaperEnabled() != tt.expectedReaper {
				t.Errorf("IsReaperEnabled(): expected %v, got %v", tt.expectedReaper, cfg.IsReaperEnabled())
			}
		})
	}
}

func TestConfig_ServiceEnabledMethodsWithInvalidConfig(t *testing.T) {
	cfg := AppConfig{ServicesConfig: ServicesConfig{Services: "invalid-service"}}

	if cfg.IsDetectionEngineEnabled() {
		t.Errorf("IsDetectionEngineEnabled() with invalid config: expected false, got true")
	}
	if cfg.IsReaperEnabled() {
		t.Errorf("IsReaperEnabled() with invalid config: expected false, got true")
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{
		ServiceModeDetectionEngine,
		ServiceModeParsingWorker,
		ServiceModeIndexWorker,
		ServiceModeEnrichmentWorker,
		ServiceModeResponseRunner,
		ServiceModeReaper,
	}

	if len(modes) != len(expected) {
		t.Errorf("expected %d service modes, got %d", len(expected), len(modes))
	}

	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    0,
		RetryLimit: -1,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: " ",
			Channel:    "  ",
			Username:   "",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: " ",
			Source:     "",
			Component:  "",
		},
	}

	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit < 0 {
		t.Fatalf("expected retry limit to be clamped to >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled without a webhook url")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled without a routing key")
	}
	if cfg.PagerDuty.Source != "soc-core" {
		t.Fatalf("expected pagerduty source default, got %q", cfg.PagerDuty.Source)
	}
	if cfg.PagerDuty.Component != "soc-core" {
		t.Fatalf("expected pagerduty component default, got %q", cfg.PagerDuty.Component)
	}

	// Disabled top-level should disable child sinks.
	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/services/test",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: "abc",
		},
	}
	cfg.Sanitize()

	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled when top-level notifications disabled")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled when top-level notifications disabled")
	}
}
