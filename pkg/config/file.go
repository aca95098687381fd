package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the probe CLI configuration.
type File struct {
	Endpoints []Endpoint `yaml:"endpoints"`
	Defaults  Defaults   `yaml:"defaults"`
}

// Endpoint is one named node.
type Endpoint struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type Defaults struct {
	Timeout    time.Duration `yaml:"timeout"`
	Extrinsics string        `yaml:"extrinsics"`
	// Workers and Requests size the bench command.
	Workers  int `yaml:"workers"`
	Requests int `yaml:"requests"`
}

// Validate applies defaults and checks every endpoint.
func (c *File) Validate() error {
	if c.Defaults.Timeout == 0 {
		c.Defaults.Timeout = DefaultTimeout
	}
	if c.Defaults.Timeout < 0 {
		return fmt.Errorf("defaults.timeout must be > 0")
	}
	if c.Defaults.Extrinsics == "" {
		c.Defaults.Extrinsics = "decode"
	}
	if c.Defaults.Extrinsics != "decode" && c.Defaults.Extrinsics != "raw" {
		return fmt.Errorf("defaults.extrinsics must be decode or raw, got %q", c.Defaults.Extrinsics)
	}
	if c.Defaults.Workers <= 0 {
		c.Defaults.Workers = 4
	}
	if c.Defaults.Requests <= 0 {
		c.Defaults.Requests = 100
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.Name == "" {
			return fmt.Errorf("endpoint %d: name is required", i)
		}
		if seen[ep.Name] {
			return fmt.Errorf("endpoint %s: duplicate name", ep.Name)
		}
		seen[ep.Name] = true
		if ep.Timeout == 0 {
			ep.Timeout = c.Defaults.Timeout
		}
		if ep.URL == "" {
			return fmt.Errorf("endpoint %s: url is required", ep.Name)
		}
		u, err := url.Parse(ep.URL)
		if err != nil {
			return fmt.Errorf("endpoint %s: invalid url: %w", ep.Name, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("endpoint %s: invalid url (missing scheme or host)", ep.Name)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("endpoint %s: invalid url scheme %q (expected http, https, ws or wss)", ep.Name, u.Scheme)
		}
	}
	return nil
}

// Lookup finds an endpoint by name.
func (c *File) Lookup(name string) (Endpoint, bool) {
	for _, ep := range c.Endpoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Load reads a YAML config file, expanding ${VAR} references first.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg File
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
