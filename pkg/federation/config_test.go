// Copyright 2024-2026 Aiku AI

package federation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshalYAML(t *testing.T) {
	t.Parallel()
	input := `
homeserver_url: http://localhost:8008
home_domain: chat.local
server_url: https://chat.local
max_file_size_mb: 50
queue_workers: 8
event_timeout_seconds: 45
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(input), &cfg); err != nil {
		t.Fatalf("UnmarshalYAML: %v", err)
	}
	if cfg.HomeDomain != "chat.local" {
		t.Errorf("HomeDomain: got %q", cfg.HomeDomain)
	}
	if cfg.MaxFileSizeBytes() != 50*1024*1024 {
		t.Errorf("MaxFileSizeBytes: got %d", cfg.MaxFileSizeBytes())
	}
	if cfg.QueueWorkers != 8 {
		t.Errorf("QueueWorkers: got %d", cfg.QueueWorkers)
	}
	if cfg.EventTimeout() != 45*time.Second {
		t.Errorf("EventTimeout: got %v", cfg.EventTimeout())
	}
}

func TestConfigPostProcessRequiresHomeDomain(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	if err := cfg.PostProcess(); err == nil {
		t.Error("PostProcess should reject a missing home_domain")
	}
}

func TestConfigPostProcessInvalidTemplate(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		HomeDomain:          "chat.local",
		DisplaynameTemplate: "{{.Bad",
	}
	if err := cfg.PostProcess(); err == nil {
		t.Error("PostProcess should return error for invalid template")
	}
}

func TestFormatDisplayname(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		HomeDomain:          "chat.local",
		DisplaynameTemplate: "{{.Username}} ({{.Origin}})",
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	got := cfg.FormatDisplayname(DisplaynameParams{Username: "bob", Origin: "remote.example"})
	if got != "bob (remote.example)" {
		t.Errorf("FormatDisplayname: got %q", got)
	}
}

func TestFormatDisplaynameNilTemplate(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	if got := cfg.FormatDisplayname(DisplaynameParams{Username: "fallback"}); got != "fallback" {
		t.Errorf("nil template should fall back to Username: got %q", got)
	}
}

func TestUpgradeConfig(t *testing.T) {
	t.Parallel()
	var baseNode yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &baseNode); err != nil {
		t.Fatalf("failed to parse base config: %v", err)
	}

	userCfg := `
homeserver_url: http://custom:8008
home_domain: custom.example
queue_workers: 16
`
	var cfgNode yaml.Node
	if err := yaml.Unmarshal([]byte(userCfg), &cfgNode); err != nil {
		t.Fatalf("failed to parse user config: %v", err)
	}

	helper := up.NewHelper(&baseNode, &cfgNode)
	upgradeConfig(helper)

	if val, ok := helper.Get(up.Str, "home_domain"); !ok || val != "custom.example" {
		t.Errorf("home_domain after upgrade: got %q, ok=%v", val, ok)
	}
	if val, ok := helper.Get(up.Str, "homeserver_url"); !ok || val != "http://custom:8008" {
		t.Errorf("homeserver_url after upgrade: got %q, ok=%v", val, ok)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(ExampleConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HomeDomain == "" {
		t.Error("home_domain missing after load")
	}
	if cfg.FormatDisplayname(DisplaynameParams{Username: "bob", Origin: "remote.example"}) == "" {
		t.Error("displayname template not usable after load")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), false); err == nil {
		t.Error("LoadConfig should fail for a missing file")
	}
}

func TestExampleConfigNotEmpty(t *testing.T) {
	t.Parallel()
	if ExampleConfig == "" {
		t.Error("ExampleConfig should not be empty (embedded from example-config.yaml)")
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExampleConfig), &cfg); err != nil {
		t.Fatalf("example config must parse: %v", err)
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("example config must pass PostProcess: %v", err)
	}
}
