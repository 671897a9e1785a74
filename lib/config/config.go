// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the node agent.
//
// Configuration is loaded from a single YAML file specified by:
//   - PICONODE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file is
// the single source of truth; the only expansion performed is
// ${VAR} and ${VAR:-default} in path values for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "10s" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for the node agent.
type Config struct {
	// Node identifies this device to the cluster.
	Node NodeConfig `yaml:"node"`

	// Cluster locates and authenticates against the API server.
	Cluster ClusterConfig `yaml:"cluster"`

	// Kubelet configures the mock node-agent endpoint.
	Kubelet KubeletConfig `yaml:"kubelet"`

	// ConfigMap names the object watched for memory updates.
	ConfigMap ConfigMapConfig `yaml:"configmap"`

	// Intervals are the periodic duties of the main loop.
	Intervals IntervalsConfig `yaml:"intervals"`

	// Transport tunes the connection layer.
	Transport TransportConfig `yaml:"transport"`

	// Memory sizes the remotely configurable region.
	Memory MemoryConfig `yaml:"memory"`
}

// NodeConfig identifies the device.
type NodeConfig struct {
	// Name is the cluster node name. Default: pico-node-1
	Name string `yaml:"name"`

	// DefinitionFile optionally points at a JSONC node definition
	// carrying extra labels and capacity overrides.
	DefinitionFile string `yaml:"definition_file"`
}

// ClusterConfig locates the API server.
type ClusterConfig struct {
	// Host is the API server name or literal address.
	Host string `yaml:"host"`

	// Port is the API server port. Default: 6443
	Port uint16 `yaml:"port"`

	// CACert, ClientCert, and ClientKey are PEM file paths for the
	// TLS session. Empty CACert skips server verification (lab use).
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`

	// Token optionally authenticates with a bearer token instead of
	// a client certificate.
	Token string `yaml:"token"`
}

// KubeletConfig configures the mock node-agent endpoint.
type KubeletConfig struct {
	// Port the endpoint listens on. Default: 10250
	Port uint16 `yaml:"port"`
}

// ConfigMapConfig names the watched object.
type ConfigMapConfig struct {
	// Namespace of the ConfigMap. Default: default
	Namespace string `yaml:"namespace"`

	// Name of the ConfigMap. Default: pico-config
	Name string `yaml:"name"`
}

// IntervalsConfig holds the main loop's periods.
type IntervalsConfig struct {
	// StatusReport is how often node status is pushed. Default: 10s
	StatusReport Duration `yaml:"status_report"`

	// ConfigMapPoll is how often the ConfigMap is fetched.
	// Default: 30s
	ConfigMapPoll Duration `yaml:"configmap_poll"`

	// HealthCheck is how often the link is probed. Default: 5s
	HealthCheck Duration `yaml:"health_check"`
}

// TransportConfig tunes the connection layer.
type TransportConfig struct {
	// RingSize is the per-connection receive ring capacity in bytes;
	// must be a power of two. Default: 4096
	RingSize int `yaml:"ring_size"`

	// PollInterval is the sleep between stack polls in blocking
	// waits. Default: 10ms
	PollInterval Duration `yaml:"poll_interval"`

	// RequestTimeout bounds one full request cycle. Default: 10s
	RequestTimeout Duration `yaml:"request_timeout"`

	// ResponseLimit caps accumulated response bytes. Default: 4096
	ResponseLimit int `yaml:"response_limit"`
}

// MemoryConfig sizes the configurable region.
type MemoryConfig struct {
	// RegionSize in bytes. Default: 1024
	RegionSize int `yaml:"region_size"`
}

// Default returns the default configuration. These defaults make a
// usable base; LoadFile merges the file over them.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Name: "pico-node-1",
		},
		Cluster: ClusterConfig{
			Port: 6443,
		},
		Kubelet: KubeletConfig{
			Port: 10250,
		},
		ConfigMap: ConfigMapConfig{
			Namespace: "default",
			Name:      "pico-config",
		},
		Intervals: IntervalsConfig{
			StatusReport:  Duration(10 * time.Second),
			ConfigMapPoll: Duration(30 * time.Second),
			HealthCheck:   Duration(5 * time.Second),
		},
		Transport: TransportConfig{
			RingSize:       4096,
			PollInterval:   Duration(10 * time.Millisecond),
			RequestTimeout: Duration(10 * time.Second),
			ResponseLimit:  4096,
		},
		Memory: MemoryConfig{
			RegionSize: 1024,
		},
	}
}

// Load loads configuration from the PICONODE_CONFIG environment
// variable. There are no fallbacks: if it is not set, Load fails.
func Load() (*Config, error) {
	path := os.Getenv("PICONODE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("PICONODE_CONFIG environment variable not set; " +
			"set it to the path of your piconode.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} patterns in path values.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Node.DefinitionFile = expandVars(c.Node.DefinitionFile, vars)
	c.Cluster.CACert = expandVars(c.Cluster.CACert, vars)
	c.Cluster.ClientCert = expandVars(c.Cluster.ClientCert, vars)
	c.Cluster.ClientKey = expandVars(c.Cluster.ClientKey, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Node.Name == "" {
		errs = append(errs, fmt.Errorf("node.name is required"))
	}
	if c.Cluster.Host == "" {
		errs = append(errs, fmt.Errorf("cluster.host is required"))
	}
	if c.Cluster.Port == 0 {
		errs = append(errs, fmt.Errorf("cluster.port is required"))
	}
	if c.Kubelet.Port == 0 {
		errs = append(errs, fmt.Errorf("kubelet.port is required"))
	}
	if (c.Cluster.ClientCert == "") != (c.Cluster.ClientKey == "") {
		errs = append(errs, fmt.Errorf("cluster.client_cert and cluster.client_key must be set together"))
	}
	if c.ConfigMap.Namespace == "" || c.ConfigMap.Name == "" {
		errs = append(errs, fmt.Errorf("configmap.namespace and configmap.name are required"))
	}
	for _, iv := range []struct {
		name  string
		value Duration
	}{
		{"intervals.status_report", c.Intervals.StatusReport},
		{"intervals.configmap_poll", c.Intervals.ConfigMapPoll},
		{"intervals.health_check", c.Intervals.HealthCheck},
		{"transport.poll_interval", c.Transport.PollInterval},
		{"transport.request_timeout", c.Transport.RequestTimeout},
	} {
		if iv.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", iv.name))
		}
	}
	if c.Transport.RingSize <= 0 || c.Transport.RingSize&(c.Transport.RingSize-1) != 0 {
		errs = append(errs, fmt.Errorf("transport.ring_size must be a power of two"))
	}
	if c.Transport.ResponseLimit <= 0 {
		errs = append(errs, fmt.Errorf("transport.response_limit must be positive"))
	}
	if c.Memory.RegionSize <= 0 {
		errs = append(errs, fmt.Errorf("memory.region_size must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
