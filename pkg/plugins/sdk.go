// Package plugins provides the Scenario Plugin SDK. Custom evaluation
// scenarios can be registered in-process through the registry or built
// as Go plugins and loaded from a plugin directory.
package plugins

import (
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
)

// ScenarioPlugin is the interface scenario plugins must implement.
type ScenarioPlugin interface {
	// Name returns the unique identifier for this plugin. It doubles as
	// the scenario name under which the plugin registers.
	Name() string

	// Version returns the semantic version of this plugin
	Version() string

	// Description returns a human-readable description of the scenario
	Description() string

	// Author returns the plugin author information
	Author() string

	// NewScenario constructs a fresh scenario instance. Each evaluation
	// run gets its own instance.
	NewScenario() scenario.Scenario

	// Initialize is called when the plugin is loaded.
	// Use this for any setup or resource initialization.
	Initialize(config PluginConfig) error

	// Cleanup is called when the plugin is unloaded.
	// Use this to release any resources.
	Cleanup() error
}

// PluginConfig holds configuration options passed to plugins during
// initialization.
type PluginConfig struct {
	// PluginDir is the directory where plugins are located
	PluginDir string `json:"plugin_dir"`

	// DataDir is a directory where plugins can store persistent data
	DataDir string `json:"data_dir"`

	// LogLevel sets the verbosity of plugin logging
	LogLevel string `json:"log_level"`

	// Options contains plugin-specific configuration options
	Options map[string]interface{} `json:"options,omitempty"`
}

// PluginInfo contains metadata about a loaded plugin.
type PluginInfo struct {
	// Name is the plugin's unique identifier
	Name string `json:"name"`

	// Version is the semantic version
	Version string `json:"version"`

	// Description is a human-readable description
	Description string `json:"description"`

	// Author is the plugin author
	Author string `json:"author"`

	// Path is the file path to the plugin
	Path string `json:"path"`

	// Techniques lists the scenario's attack techniques
	Techniques []string `json:"techniques,omitempty"`

	// Loaded indicates whether the plugin is currently loaded
	Loaded bool `json:"loaded"`

	// Error contains any error message if the plugin failed to load
	Error string `json:"error,omitempty"`
}

// PluginSymbols defines the symbol names that must be exported by plugins.
const (
	// PluginSymbolNew is the symbol name for the plugin constructor function.
	// The function must have signature: func() ScenarioPlugin
	PluginSymbolNew = "NewScenarioPlugin"

	// PluginSymbolVersion is the symbol name for the version string.
	// This is optional but recommended for quick version checking without loading.
	PluginSymbolVersion = "PluginVersion"

	// PluginSymbolName is the symbol name for the name string.
	// This is optional but recommended for quick identification without loading.
	PluginSymbolName = "PluginName"
)

// BaseScenarioPlugin provides a base implementation of ScenarioPlugin
// that plugin authors can embed to reduce boilerplate.
type BaseScenarioPlugin struct {
	name        string
	version     string
	description string
	author      string
	factory     func() scenario.Scenario
	config      PluginConfig
}

// NewBaseScenarioPlugin creates a base plugin wrapping a scenario factory.
func NewBaseScenarioPlugin(name, version, description, author string, factory func() scenario.Scenario) *BaseScenarioPlugin {
	return &BaseScenarioPlugin{
		name:        name,
		version:     version,
		description: description,
		author:      author,
		factory:     factory,
	}
}

// Name returns the plugin name.
func (p *BaseScenarioPlugin) Name() string { return p.name }

// Version returns the plugin version.
func (p *BaseScenarioPlugin) Version() string { return p.version }

// Description returns the plugin description.
func (p *BaseScenarioPlugin) Description() string { return p.description }

// Author returns the plugin author.
func (p *BaseScenarioPlugin) Author() string { return p.author }

// NewScenario builds a scenario instance through the wrapped factory.
func (p *BaseScenarioPlugin) NewScenario() scenario.Scenario {
	if p.factory == nil {
		return nil
	}
	return p.factory()
}

// Initialize stores the config. Override this to add custom initialization.
func (p *BaseScenarioPlugin) Initialize(config PluginConfig) error {
	p.config = config
	return nil
}

// Cleanup does nothing by default. Override to add cleanup logic.
func (p *BaseScenarioPlugin) Cleanup() error {
	return nil
}

// Config returns the plugin configuration.
func (p *BaseScenarioPlugin) Config() PluginConfig {
	return p.config
}
