// Copyright 2024-2026 Aiku AI

package federation

import (
	_ "embed"
	"fmt"
	"text/template"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the federation service configuration.
type Config struct {
	// HomeserverURL is the client-server API address of the homeserver the
	// service runs against.
	HomeserverURL string `yaml:"homeserver_url"`
	// HomeDomain is the server name whose users count as local origin.
	// Identity origin checks compare external id domain suffixes against it.
	HomeDomain string `yaml:"home_domain"`
	// ServerURL is the public base URL of the local chat server, used to
	// build permalinks embedded in quote messages.
	ServerURL string `yaml:"server_url"`

	// ListenAddr is where the appservice transaction listener binds.
	ListenAddr string `yaml:"listen_addr"`
	// RegistrationPath points at the appservice registration YAML shared
	// with the homeserver.
	RegistrationPath string `yaml:"registration_path"`

	DatabasePath string `yaml:"database_path"`
	// FileUploadPath is the directory federated attachments are stored in.
	FileUploadPath string `yaml:"file_upload_path"`

	DisplaynameTemplate string `yaml:"displayname_template"`

	// MaxFileSizeMB caps inbound attachments. Zero disables the limit.
	MaxFileSizeMB int64 `yaml:"max_file_size_mb"`
	QueueWorkers  int   `yaml:"queue_workers"`
	// EventTimeoutSeconds bounds the processing of a single event.
	EventTimeoutSeconds int `yaml:"event_timeout_seconds"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// DisplaynameParams holds the parameters for rendering the displayname
// template for shadow users.
type DisplaynameParams struct {
	Username string
	Origin   string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

func (c *Config) PostProcess() error {
	if c.HomeDomain == "" {
		return fmt.Errorf("home_domain must be set")
	}
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	return err
}

// MaxFileSizeBytes returns the attachment cap in bytes, 0 for unlimited.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// EventTimeout returns the per-event processing bound.
func (c *Config) EventTimeout() time.Duration {
	return time.Duration(c.EventTimeoutSeconds) * time.Second
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver_url")
	helper.Copy(up.Str, "home_domain")
	helper.Copy(up.Str, "server_url")
	helper.Copy(up.Str, "listen_addr")
	helper.Copy(up.Str, "registration_path")
	helper.Copy(up.Str, "database_path")
	helper.Copy(up.Str, "file_upload_path")
	helper.Copy(up.Str, "displayname_template")
	helper.Copy(up.Int, "max_file_size_mb")
	helper.Copy(up.Int, "queue_workers")
	helper.Copy(up.Int, "event_timeout_seconds")
}

// ConfigUpgrader migrates user config files onto the current example layout.
var ConfigUpgrader up.BaseUpgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks:         nil,
	Base:           ExampleConfig,
}

// LoadConfig reads, upgrades and parses the config file at path, writing the
// upgraded rendition back when save is set.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, ConfigUpgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// FormatDisplayname generates a shadow user display name from the template
// and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Username
	}
	var buf []byte
	err := c.displaynameTemplate.Execute(
		(*templateBuffer)(&buf),
		params,
	)
	if err != nil {
		return params.Username
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
