package bootstrap

import (
	"testing"

	"github.com/target/soc-core/config"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "detection engine only",
			modes: []config.ServiceMode{config.ServiceModeDetectionEngine},
			want:  1,
		},
		{
			name:  "detection engine and parsing worker",
			modes: []config.ServiceMode{config.ServiceModeDetectionEngine, config.ServiceModeParsingWorker},
			want:  2,
		},
		{
			name:  "response runner and reaper",
			modes: []config.ServiceMode{config.ServiceModeResponseRunner, config.ServiceModeReaper},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeDetectionEngine,
				config.ServiceModeParsingWorker,
				config.ServiceModeIndexWorker,
				config.ServiceModeEnrichmentWorker,
				config.ServiceModeResponseRunner,
				config.ServiceModeReaper,
			},
			want: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestErrorChannelBufferSize(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 1,
		},
		{
			name:  "detection engine only",
			modes: []config.ServiceMode{config.ServiceModeDetectionEngine},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeDetectionEngine,
				config.ServiceModeParsingWorker,
				config.ServiceModeIndexWorker,
				config.ServiceModeEnrichmentWorker,
				config.ServiceModeResponseRunner,
				config.ServiceModeReaper,
			},
			want: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelBufferSize(enabled); got != tt.want {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}
