package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	content := `
upstream:
  url: "https://github.com/example/upstream.git"
  default_branch: "main"

mirror:
  url: "git@github.com:example/mirror.git"
  tracking_branch_prefix: "mirror/"

refs:
  tag_prefix: "v"
  min_version: "0.9.0"
  exclude:
    - "v0.8.1"

reserved_paths:
  - ".github"

patch:
  file: "Dockerfile"
  marker: "ENTRYPOINT"
  insert: "RUN apk add --no-cache ca-certificates"

paths:
  state_dir: "/home/user/.local/state/mirrorsyncd"

auth:
  ssh_key_file: "/home/user/.ssh/key"

trigger:
  dispatch_url: "https://ci.example.com/api/dispatch"
  token_file: "/home/user/.config/mirrorsyncd/trigger-token"

serve:
  enabled: false
`

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Upstream.URL != "https://github.com/example/upstream.git" {
		t.Errorf("unexpected upstream URL %s", cfg.Upstream.URL)
	}
	if cfg.Refs.MinVersion != "0.9.0" {
		t.Errorf("unexpected min version %s", cfg.Refs.MinVersion)
	}
	if len(cfg.Refs.Exclude) != 1 || cfg.Refs.Exclude[0] != "v0.8.1" {
		t.Errorf("unexpected exclusions %v", cfg.Refs.Exclude)
	}
	if cfg.Patch.File != "Dockerfile" {
		t.Errorf("unexpected patch file %s", cfg.Patch.File)
	}
	if cfg.Trigger.Concurrency != 4 {
		t.Errorf("expected default trigger concurrency, got %d", cfg.Trigger.Concurrency)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	content := `
upstream:
  url: "https://github.com/example/upstream.git"
mirror:
  url: "https://github.com/example/mirror.git"
paths:
  state_dir: "/var/lib/mirrorsyncd"
`

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Upstream.DefaultBranch != "main" {
		t.Errorf("expected default branch main, got %s", cfg.Upstream.DefaultBranch)
	}
	if cfg.Mirror.TrackingBranchPrefix != "mirror/" {
		t.Errorf("unexpected tracking prefix %s", cfg.Mirror.TrackingBranchPrefix)
	}
	if cfg.Mirror.CommitMessage == "" {
		t.Error("expected a default commit message")
	}
	if cfg.Refs.TagPrefix != "v" {
		t.Errorf("unexpected tag prefix %s", cfg.Refs.TagPrefix)
	}
	if len(cfg.ReservedPaths) != 1 || cfg.ReservedPaths[0] != ".github" {
		t.Errorf("unexpected reserved paths %v", cfg.ReservedPaths)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("MIRROR_STATE", "/srv/mirrorsyncd")

	content := `
upstream:
  url: "https://github.com/example/upstream.git"
mirror:
  url: "https://github.com/example/mirror.git"
paths:
  state_dir: "$MIRROR_STATE/state"
`

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Paths.StateDir != "/srv/mirrorsyncd/state" {
		t.Errorf("env not expanded: %s", cfg.Paths.StateDir)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{
			Upstream: UpstreamConfig{URL: "https://github.com/example/upstream.git"},
			Mirror:   MirrorConfig{URL: "git@github.com:example/mirror.git"},
			Paths:    PathsConfig{StateDir: "/absolute/state"},
		}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing upstream URL",
			mutate:  func(c *Config) { c.Upstream.URL = "" },
			wantErr: true,
		},
		{
			name:    "missing mirror URL",
			mutate:  func(c *Config) { c.Mirror.URL = "" },
			wantErr: true,
		},
		{
			name:    "relative state dir",
			mutate:  func(c *Config) { c.Paths.StateDir = "relative/state" },
			wantErr: true,
		},
		{
			name:    "patch file without marker",
			mutate:  func(c *Config) { c.Patch.File = "Dockerfile" },
			wantErr: true,
		},
		{
			name:    "patch marker without file",
			mutate:  func(c *Config) { c.Patch.Marker = "ENTRYPOINT" },
			wantErr: true,
		},
		{
			name: "patch without insert",
			mutate: func(c *Config) {
				c.Patch.File = "Dockerfile"
				c.Patch.Marker = "ENTRYPOINT"
			},
			wantErr: true,
		},
		{
			name: "complete patch",
			mutate: func(c *Config) {
				c.Patch.File = "Dockerfile"
				c.Patch.Marker = "ENTRYPOINT"
				c.Patch.Insert = "RUN true"
			},
			wantErr: false,
		},
		{
			name: "both auth methods",
			mutate: func(c *Config) {
				c.Auth.SSHKeyFile = "/key"
				c.Auth.HTTPSTokenFile = "/token"
			},
			wantErr: true,
		},
		{
			name:    "ssh key with ssh mirror",
			mutate:  func(c *Config) { c.Auth.SSHKeyFile = "/key" },
			wantErr: false,
		},
		{
			name: "https token with ssh mirror",
			mutate: func(c *Config) {
				c.Auth.HTTPSTokenFile = "/token"
			},
			wantErr: true,
		},
		{
			name: "https token with https mirror",
			mutate: func(c *Config) {
				c.Mirror.URL = "https://github.com/example/mirror.git"
				c.Auth.HTTPSTokenFile = "/token"
			},
			wantErr: false,
		},
		{
			name:    "trigger token without URL",
			mutate:  func(c *Config) { c.Trigger.TokenFile = "/token" },
			wantErr: true,
		},
		{
			name:    "negative trigger concurrency",
			mutate:  func(c *Config) { c.Trigger.Concurrency = -1 },
			wantErr: true,
		},
		{
			name:    "serve enabled without listen addr",
			mutate:  func(c *Config) { c.Serve.Enabled = true },
			wantErr: true,
		},
		{
			name: "serve enabled complete",
			mutate: func(c *Config) {
				c.Serve.Enabled = true
				c.Serve.ListenAddr = ":8080"
				c.Serve.WebhookSecretFile = "/secret"
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Config{Paths: PathsConfig{StateDir: "/var/lib/mirrorsyncd"}}

	if got := cfg.SnapshotDir(); got != "/var/lib/mirrorsyncd/upstream" {
		t.Errorf("unexpected snapshot dir %s", got)
	}
	if got := cfg.MirrorDir(); got != "/var/lib/mirrorsyncd/mirror" {
		t.Errorf("unexpected mirror dir %s", got)
	}
}

func TestAuthMethod(t *testing.T) {
	cfg := Config{}
	if got := cfg.AuthMethod(); got != "none" {
		t.Errorf("expected none, got %s", got)
	}

	cfg.Auth.SSHKeyFile = "/key"
	if got := cfg.AuthMethod(); got != "ssh" {
		t.Errorf("expected ssh, got %s", got)
	}

	cfg.Auth.SSHKeyFile = ""
	cfg.Auth.HTTPSTokenFile = "/token"
	if got := cfg.AuthMethod(); got != "https" {
		t.Errorf("expected https, got %s", got)
	}
}
