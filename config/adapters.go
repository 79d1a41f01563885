package config

import "strings"

// AdaptersConfig groups credentials and endpoints for the external systems
// the response executor and enrichment pipeline dispatch against.
type AdaptersConfig struct {
	CrowdStrike CrowdStrikeConfig `envPrefix:"CROWDSTRIKE_"`
	Shuffle     ShuffleConfig     `envPrefix:"SHUFFLE_"`
	Storage     StorageConfig     `envPrefix:"STORAGE_"`
	OpenCTI     OpenCTIConfig     `envPrefix:"OPENCTI_"`
}

// Sanitize applies guardrails to adapter configuration values.
func (c *AdaptersConfig) Sanitize() {
	c.CrowdStrike.sanitize()
	c.Shuffle.sanitize()
	c.Storage.sanitize()
	c.OpenCTI.sanitize()
}

// CrowdStrikeConfig configures the response.Collector role's CrowdStrike Falcon adapter.
type CrowdStrikeConfig struct {
	Enabled      bool   `env:"ENABLED"       envDefault:"false"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Region       string `env:"REGION"        envDefault:"us-1"`
	BaseURL      string `env:"BASE_URL"`
}

func (c *CrowdStrikeConfig) sanitize() {
	c.Region = strings.TrimSpace(c.Region)
	if c.Region == "" {
		c.Region = "us-1"
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		c.Enabled = false
	}
}

// ShuffleConfig configures the response.SOAR role's Shuffle workflow adapter.
type ShuffleConfig struct {
	Enabled bool   `env:"ENABLED"  envDefault:"false"`
	BaseURL string `env:"BASE_URL"`
	APIKey  string `env:"API_KEY"`
}

func (c *ShuffleConfig) sanitize() {
	if c.BaseURL == "" || c.APIKey == "" {
		c.Enabled = false
	}
}

// StorageBackend selects which StorageAdapter implementation is constructed.
type StorageBackend string

const (
	StorageBackendLocal StorageBackend = "local"
	StorageBackendS3    StorageBackend = "s3"
)

// StorageConfig configures the response.StorageAdapter role's evidence-blob backend.
type StorageConfig struct {
	Backend     StorageBackend `env:"BACKEND"      envDefault:"local"`
	LocalDir    string         `env:"LOCAL_DIR"     envDefault:"./data/evidence"`
	Bucket      string         `env:"S3_BUCKET"`
	Region      string         `env:"S3_REGION"     envDefault:"us-east-1"`
	AccessKey   string         `env:"S3_ACCESS_KEY"`
	SecretKey   string         `env:"S3_SECRET_KEY"`
	EndpointURL string         `env:"S3_ENDPOINT_URL"`
}

func (c *StorageConfig) sanitize() {
	switch c.Backend {
	case StorageBackendS3:
	default:
		c.Backend = StorageBackendLocal
	}
}

// OpenCTIConfig configures the enrichment pipeline's OpenCTI threat-intel provider.
type OpenCTIConfig struct {
	Enabled bool   `env:"ENABLED"  envDefault:"false"`
	BaseURL string `env:"BASE_URL"`
	Token   string `env:"TOKEN"`
}

func (c *OpenCTIConfig) sanitize() {
	if c.BaseURL == "" {
		c.Enabled = false
	}
}
