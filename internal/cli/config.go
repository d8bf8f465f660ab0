package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const projectConfigName = ".otlp-timeline.json"

// Config holds the runtime configuration for otlp-timeline.
// It can be populated from CLI flags, config files, or both.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty"`

	// Number of traces held before the oldest is evicted
	TraceCapacity int `json:"trace_capacity,omitempty"`

	// OTLP server configuration
	OTLPHost string `json:"otlp_host,omitempty"`
	OTLPPort int    `json:"otlp_port,omitempty"`

	// Web UI configuration
	WebUIHost string `json:"webui_host,omitempty"` // default: 127.0.0.1
	WebUIPort int    `json:"webui_port,omitempty"` // default: 4390; -1 disables the UI

	// MCP on stdio alongside the receiver
	MCP bool `json:"mcp,omitempty"`

	// Minimap surface in pixels
	MinimapWidth  int `json:"minimap_width,omitempty"`
	MinimapHeight int `json:"minimap_height,omitempty"`

	// Trace file directories to watch, plus collector configs whose file
	// exporters name more of them
	WatchDirs   []string `json:"watch_dirs,omitempty"`
	OtelConfigs []string `json:"otel_configs,omitempty"`
	ActiveOnly  bool     `json:"active_only,omitempty"`

	// Logging configuration
	Verbose bool `json:"verbose,omitempty"`
}

// DefaultConfig returns a Config with sensible default values:
// - 500 traces
// - OTLP on localhost, ephemeral port
// - web UI on localhost:4390
// - 800x60 minimap
func DefaultConfig() *Config {
	return &Config{
		TraceCapacity: 500,
		OTLPHost:      "127.0.0.1",
		OTLPPort:      0, // 0 means ephemeral port assignment
		WebUIHost:     "127.0.0.1",
		WebUIPort:     4390,
		MinimapWidth:  800,
		MinimapHeight: 60,
	}
}

// LoadConfigFromFile loads configuration from a JSON file at the given path.
// It returns an error if the file cannot be read or parsed.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// FindProjectConfig searches for a .otlp-timeline.json config file.
// It starts in dir and walks up looking for the file, stopping when it
// finds a .git directory (project root) or reaches root.
func FindProjectConfig(dir string) (string, error) {
	for {
		configPath := filepath.Join(dir, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Stop at the repo root even if no config was found
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns the path to the global config file.
// This is ~/.config/otlp-timeline/config.json
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "otlp-timeline", "config.json")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Fields in overlay override corresponding fields in base; directory
// lists accumulate. Returns a new Config with the merged values.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	if overlay.TraceCapacity > 0 {
		merged.TraceCapacity = overlay.TraceCapacity
	}

	if overlay.OTLPHost != "" {
		merged.OTLPHost = overlay.OTLPHost
	}
	if overlay.OTLPPort != 0 {
		merged.OTLPPort = overlay.OTLPPort
	}

	if overlay.WebUIHost != "" {
		merged.WebUIHost = overlay.WebUIHost
	}
	if overlay.WebUIPort != 0 {
		merged.WebUIPort = overlay.WebUIPort
	}
	if overlay.MCP {
		merged.MCP = true
	}

	if overlay.MinimapWidth > 0 {
		merged.MinimapWidth = overlay.MinimapWidth
	}
	if overlay.MinimapHeight > 0 {
		merged.MinimapHeight = overlay.MinimapHeight
	}

	merged.WatchDirs = appendUnique(base.WatchDirs, overlay.WatchDirs...)
	merged.OtelConfigs = appendUnique(base.OtelConfigs, overlay.OtelConfigs...)
	if overlay.ActiveOnly {
		merged.ActiveOnly = true
	}

	if overlay.Verbose {
		merged.Verbose = true
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file (if exists and configPath is empty)
// 4. Explicit config file (if specified via configPath)
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Global config is optional; errors are ignored
	if globalPath := GlobalConfigPath(); globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
	}

	if configPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		if projectPath, err := FindProjectConfig(cwd); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}

func appendUnique(base []string, more ...string) []string {
	out := append([]string(nil), base...)
	for _, s := range more {
		dup := false
		for _, have := range out {
			if have == s {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}
