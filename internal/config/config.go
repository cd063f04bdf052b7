package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mirrorsyncd configuration
type Config struct {
	Upstream      UpstreamConfig `yaml:"upstream"`
	Mirror        MirrorConfig   `yaml:"mirror"`
	Refs          RefsConfig     `yaml:"refs"`
	ReservedPaths []string       `yaml:"reserved_paths"`
	Patch         PatchConfig    `yaml:"patch"`
	Paths         PathsConfig    `yaml:"paths"`
	Auth          AuthConfig     `yaml:"auth"`
	Trigger       TriggerConfig  `yaml:"trigger"`
	Serve         ServeConfig    `yaml:"serve"`
}

// UpstreamConfig configures the repository being mirrored
type UpstreamConfig struct {
	URL           string `yaml:"url"`
	DefaultBranch string `yaml:"default_branch"`
}

// MirrorConfig configures the mirror repository and how commits are authored
type MirrorConfig struct {
	URL                  string `yaml:"url"`
	TrackingBranchPrefix string `yaml:"tracking_branch_prefix"`
	CommitMessage        string `yaml:"commit_message"`
	AuthorName           string `yaml:"author_name"`
	AuthorEmail          string `yaml:"author_email"`
}

// RefsConfig configures which upstream refs are mirrored
type RefsConfig struct {
	TagPrefix  string   `yaml:"tag_prefix"`
	MinVersion string   `yaml:"min_version"`
	Exclude    []string `yaml:"exclude"`
}

// PatchConfig configures the deterministic single-line patch applied to one
// file of the mirrored tree. Leave file empty to disable patching.
type PatchConfig struct {
	File   string `yaml:"file"`
	Marker string `yaml:"marker"`
	Insert string `yaml:"insert"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	StateDir string `yaml:"state_dir"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// TriggerConfig configures the downstream build dispatch. Leave dispatch_url
// empty to mirror without triggering builds.
type TriggerConfig struct {
	DispatchURL string `yaml:"dispatch_url"`
	TokenFile   string `yaml:"token_file"`
	Concurrency int    `yaml:"concurrency"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled           bool     `yaml:"enabled"`
	ListenAddr        string   `yaml:"listen_addr"`
	WebhookSecretFile string   `yaml:"webhook_secret_file"`
	AllowedEventTypes []string `yaml:"allowed_event_types"`
	AllowedRefs       []string `yaml:"allowed_refs"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all path-like string fields
func (c *Config) expandEnv() {
	c.Upstream.URL = os.ExpandEnv(c.Upstream.URL)
	c.Mirror.URL = os.ExpandEnv(c.Mirror.URL)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	c.Trigger.DispatchURL = os.ExpandEnv(c.Trigger.DispatchURL)
	c.Trigger.TokenFile = os.ExpandEnv(c.Trigger.TokenFile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.WebhookSecretFile = os.ExpandEnv(c.Serve.WebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Upstream.DefaultBranch == "" {
		c.Upstream.DefaultBranch = "main"
	}
	if c.Mirror.TrackingBranchPrefix == "" {
		c.Mirror.TrackingBranchPrefix = "mirror/"
	}
	if c.Mirror.CommitMessage == "" {
		c.Mirror.CommitMessage = "Update mirrored sources for {ref}"
	}
	if c.Mirror.AuthorName == "" {
		c.Mirror.AuthorName = "mirrorsyncd"
	}
	if c.Mirror.AuthorEmail == "" {
		c.Mirror.AuthorEmail = "mirrorsyncd@localhost"
	}
	if c.Refs.TagPrefix == "" {
		c.Refs.TagPrefix = "v"
	}
	if c.ReservedPaths == nil {
		c.ReservedPaths = []string{".github"}
	}
	if c.Trigger.Concurrency == 0 {
		c.Trigger.Concurrency = 4
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if c.Mirror.URL == "" {
		return fmt.Errorf("mirror.url is required")
	}

	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir is required")
	}
	if !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}

	// The patch is all-or-nothing: a file without a marker (or vice versa)
	// is a misconfiguration, not a disabled patch.
	if (c.Patch.File == "") != (c.Patch.Marker == "") {
		return fmt.Errorf("patch.file and patch.marker must be set together")
	}
	if c.Patch.File != "" && c.Patch.Insert == "" {
		return fmt.Errorf("patch.insert is required when patch.file is set")
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth is configured, the mirror URL scheme must
	// match, since authenticated pushes go there.
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but mirror.url does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but mirror.url does not use HTTPS scheme")
	}

	if c.Trigger.DispatchURL == "" && c.Trigger.TokenFile != "" {
		return fmt.Errorf("trigger.token_file is set but trigger.dispatch_url is empty")
	}
	if c.Trigger.Concurrency < 0 {
		return fmt.Errorf("trigger.concurrency must not be negative")
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.WebhookSecretFile == "" {
			return fmt.Errorf("serve.webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// SnapshotDir returns the path where the upstream snapshot is checked out
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.Paths.StateDir, "upstream")
}

// MirrorDir returns the path where the mirror workspace is checked out
func (c *Config) MirrorDir() string {
	return filepath.Join(c.Paths.StateDir, "mirror")
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the mirror URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Mirror.URL, "https://")
}

// IsSSH returns true if the mirror URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Mirror.URL, "git@") || strings.HasPrefix(c.Mirror.URL, "ssh://")
}
