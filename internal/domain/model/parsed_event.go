package model

import (
	"encoding/json"
	"time"
)

// ParserCategory classifies the family of artifact a parser understands.
type ParserCategory string

const (
	ParserCategoryLogs          ParserCategory = "logs"
	ParserCategoryFilesystem    ParserCategory = "filesystem"
	ParserCategoryNetwork       ParserCategory = "network"
	ParserCategoryBrowserArtifact ParserCategory = "browser_artifact"
	ParserCategoryCloudAudit    ParserCategory = "cloud_audit"
	ParserCategoryGeneric       ParserCategory = "generic"
)

// Valid reports whether the category is one of the supported values.
func (c ParserCategory) Valid() bool {
	switch c {
	case ParserCategoryLogs, ParserCategoryFilesystem, ParserCategoryNetwork,
		ParserCategoryBrowserArtifact, ParserCategoryCloudAudit, ParserCategoryGeneric:
		return true
	default:
		return false
	}
}

// ParserMetadata describes a registered parser's identity and the artifacts it accepts.
type ParserMetadata struct {
	Name                string
	Category            ParserCategory
	Description         string
	SupportedExtensions []string
	SupportedMimeTypes  []string
	// Priority breaks ties when more than one parser reports CanParse for the
	// same artifact; higher priority wins.
	Priority int
}

// ParsedEvent is the canonical intermediate representation every format
// parser normalizes raw evidence into, prior to ECS projection.
type ParsedEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
	SourceType string    `json:"source_type"`
	SourceFile string    `json:"source_file"`
	SourceLine int       `json:"source_line"`

	EventKind     string   `json:"event_kind"`
	EventCategory []string `json:"event_category"`
	EventType     []string `json:"event_type"`
	EventAction   string   `json:"event_action"`
	EventOutcome  *string  `json:"event_outcome,omitempty"`

	HostName *string `json:"host_name,omitempty"`

	UserName   *string `json:"user_name,omitempty"`
	UserDomain *string `json:"user_domain,omitempty"`
	UserID     *string `json:"user_id,omitempty"`

	ProcessName        *string `json:"process_name,omitempty"`
	ProcessExecutable  *string `json:"process_executable,omitempty"`
	ProcessPID         *int64  `json:"process_pid,omitempty"`
	ProcessPPID        *int64  `json:"process_ppid,omitempty"`
	ProcessCommandLine *string `json:"process_command_line,omitempty"`

	FilePath *string `json:"file_path,omitempty"`
	FileHash *string `json:"file_hash,omitempty"`
	FileSize *int64  `json:"file_size,omitempty"`

	SourceIP   *string `json:"source_ip,omitempty"`
	SourcePort *int    `json:"source_port,omitempty"`

	DestinationIP   *string `json:"destination_ip,omitempty"`
	DestinationPort *int    `json:"destination_port,omitempty"`

	URL *string `json:"url,omitempty"`

	Raw    map[string]any   `json:"raw,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// ParserResult aggregates the outcome of parsing a single source artifact.
type ParserResult struct {
	ParserName   string          `json:"parser_name"`
	SourceName   string          `json:"source_name"`
	Events       []*ParsedEvent  `json:"-"`
	EventCount   int             `json:"event_count"`
	ErrorCount   int             `json:"error_count"`
	Errors       []string        `json:"errors,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	ParsedAt     time.Time       `json:"parsed_at"`
	ExtraContext json.RawMessage `json:"extra_context,omitempty"`
}
