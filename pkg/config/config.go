package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the user-tunable settings persisted in
// ~/.wtunnel/config.yaml. Missing fields fall back to defaults, and the
// file is created with defaults on first run.
type Config struct {
	// Domain is the suffix of the synthetic hostname: <subdomain>.<domain>.
	Domain string `yaml:"domain"`

	// PortRangeStart/PortRangeEnd bound the gateway port allocation scan.
	PortRangeStart int `yaml:"port_range_start"`
	PortRangeEnd   int `yaml:"port_range_end"`

	// GracePeriod is how long terminate waits after SIGTERM before
	// escalating to SIGKILL.
	GracePeriod time.Duration `yaml:"grace_period"`

	// PublicURLTimeout bounds the wait for the public helper to print
	// its URL during create.
	PublicURLTimeout time.Duration `yaml:"public_url_timeout"`

	// LockTimeout bounds the wait for the registry lock when another
	// invocation holds it.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// ForwarderCommand and HelperCommand are argv templates for the two
	// subprocess kinds. Placeholders: {listen_port}, {target_port},
	// {subdomain}. The forwarding itself is delegated to these
	// executables; wtunnel only supervises them.
	ForwarderCommand []string `yaml:"forwarder_command"`
	HelperCommand    []string `yaml:"helper_command"`

	// BundledNode records a previously installed portable Node.js
	// runtime used to run the public helper when npx is not on PATH.
	BundledNode BundledNode `yaml:"bundled_node,omitempty"`

	stateDir string
}

// BundledNode describes a portable Node.js install under the state dir.
type BundledNode struct {
	Version string `yaml:"version,omitempty"`
	Root    string `yaml:"root,omitempty"`
	NpxPath string `yaml:"npx_path,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Domain:           "localhost",
		PortRangeStart:   8000,
		PortRangeEnd:     9000,
		GracePeriod:      3 * time.Second,
		PublicURLTimeout: 20 * time.Second,
		LockTimeout:      5 * time.Second,
		ForwarderCommand: []string{
			"socat",
			"TCP-LISTEN:{listen_port},fork,reuseaddr",
			"TCP:127.0.0.1:{target_port}",
		},
		HelperCommand: []string{
			"npx", "localtunnel",
			"--port", "{listen_port}",
			"--subdomain", "{subdomain}",
		},
	}
}

// Load reads the config from stateDir, creating the directory tree and a
// default config file when absent.
func Load(stateDir string) (*Config, error) {
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		stateDir = filepath.Join(home, ".wtunnel")
	}

	for _, dir := range []string{stateDir, filepath.Join(stateDir, "logs"), filepath.Join(stateDir, "tools")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	cfg := Default()
	cfg.stateDir = stateDir

	path := cfg.Path()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := cfg.SaveTo(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.stateDir = stateDir
	return cfg, nil
}

// SaveTo writes the config as YAML.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Save writes the config back to its state directory.
func (c *Config) Save() error {
	return c.SaveTo(c.Path())
}

// StateDir returns the per-user directory holding all persisted state.
func (c *Config) StateDir() string { return c.stateDir }

// Path returns the config file location.
func (c *Config) Path() string { return filepath.Join(c.stateDir, "config.yaml") }

// RegistryPath returns the tunnel registry database location.
func (c *Config) RegistryPath() string { return filepath.Join(c.stateDir, "registry.db") }

// AppLogPath returns the application log location.
func (c *Config) AppLogPath() string { return filepath.Join(c.stateDir, "wtunnel.log") }

// TunnelLogPath returns the forwarder log location for a tunnel.
func (c *Config) TunnelLogPath(name string) string {
	return filepath.Join(c.stateDir, "logs", name+".log")
}

// PublicLogPath returns the public-helper log location for a tunnel.
func (c *Config) PublicLogPath(name string) string {
	return filepath.Join(c.stateDir, "logs", name+".public.log")
}

// ToolsDir returns the directory reserved for downloaded runtimes.
func (c *Config) ToolsDir() string { return filepath.Join(c.stateDir, "tools") }

// ExpandCommand substitutes the placeholders of an argv template.
func ExpandCommand(template []string, listenPort, targetPort int, subdomain string) []string {
	replacer := strings.NewReplacer(
		"{listen_port}", strconv.Itoa(listenPort),
		"{target_port}", strconv.Itoa(targetPort),
		"{subdomain}", subdomain,
	)
	expanded := make([]string, len(template))
	for i, arg := range template {
		expanded[i] = replacer.Replace(arg)
	}
	return expanded
}
