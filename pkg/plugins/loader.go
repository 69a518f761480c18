package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and managing scenario plugins.
type Loader struct {
	mu        sync.RWMutex
	pluginDir string
	dataDir   string
	plugins   map[string]*loadedPlugin
	config    PluginConfig
}

// loadedPlugin holds a loaded plugin and its handle.
type loadedPlugin struct {
	info   PluginInfo
	plugin ScenarioPlugin
	handle *plugin.Plugin
}

// PluginMetadata represents the metadata YAML file for a plugin.
type PluginMetadata struct {
	Name        string                 `yaml:"name"`
	Version     string                 `yaml:"version"`
	Description string                 `yaml:"description"`
	Author      string                 `yaml:"author"`
	Options     map[string]interface{} `yaml:"options,omitempty"`
}

// NewLoader creates a scenario plugin loader.
func NewLoader(pluginDir, dataDir string) *Loader {
	return &Loader{
		pluginDir: pluginDir,
		dataDir:   dataDir,
		plugins:   make(map[string]*loadedPlugin),
		config: PluginConfig{
			PluginDir: pluginDir,
			DataDir:   dataDir,
			LogLevel:  "info",
		},
	}
}

// SetConfig sets the plugin configuration.
func (l *Loader) SetConfig(config PluginConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config = config
}

// LoadAll discovers and loads all plugins in the plugin directory.
func (l *Loader) LoadAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.pluginDir, 0755); err != nil {
		return fmt.Errorf("failed to create plugin directory: %w", err)
	}

	entries, err := os.ReadDir(l.pluginDir)
	if err != nil {
		return fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var loadErrors []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".so") {
			continue
		}
		path := filepath.Join(l.pluginDir, entry.Name())
		if err := l.loadPluginLocked(path); err != nil {
			loadErrors = append(loadErrors, fmt.Sprintf("%s: %v", entry.Name(), err))
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("some plugins failed to load:\n  %s", strings.Join(loadErrors, "\n  "))
	}
	return nil
}

// Load loads a single plugin from the given path.
func (l *Loader) Load(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadPluginLocked(path)
}

// loadPluginLocked loads a plugin while holding the lock.
func (l *Loader) loadPluginLocked(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	p, err := plugin.Open(absPath)
	if err != nil {
		return fmt.Errorf("failed to open plugin: %w", err)
	}

	newPluginSym, err := p.Lookup(PluginSymbolNew)
	if err != nil {
		return fmt.Errorf("plugin missing %s symbol: %w", PluginSymbolNew, err)
	}

	newPluginFunc, ok := newPluginSym.(func() ScenarioPlugin)
	if !ok {
		return fmt.Errorf("invalid %s signature, expected func() ScenarioPlugin", PluginSymbolNew)
	}

	scnPlugin := newPluginFunc()
	if scnPlugin == nil {
		return fmt.Errorf("plugin constructor returned nil")
	}

	metadata := l.loadMetadata(path)
	config := l.config
	if metadata != nil && metadata.Options != nil {
		config.Options = metadata.Options
	}

	if err := scnPlugin.Initialize(config); err != nil {
		return fmt.Errorf("plugin initialization failed: %w", err)
	}

	// Instantiate once to capture the technique list for listings.
	var techniques []string
	if scn := scnPlugin.NewScenario(); scn != nil {
		techniques = scn.Techniques()
	}

	info := PluginInfo{
		Name:        scnPlugin.Name(),
		Version:     scnPlugin.Version(),
		Description: scnPlugin.Description(),
		Author:      scnPlugin.Author(),
		Path:        absPath,
		Techniques:  techniques,
		Loaded:      true,
	}

	l.plugins[info.Name] = &loadedPlugin{
		info:   info,
		plugin: scnPlugin,
		handle: p,
	}
	return nil
}

// loadMetadata loads the metadata YAML file for a plugin.
func (l *Loader) loadMetadata(pluginPath string) *PluginMetadata {
	baseName := strings.TrimSuffix(pluginPath, filepath.Ext(pluginPath))
	for _, ext := range []string{".yaml", ".yml"} {
		metaPath := baseName + ext
		if data, err := os.ReadFile(metaPath); err == nil {
			var metadata PluginMetadata
			if err := yaml.Unmarshal(data, &metadata); err == nil {
				return &metadata
			}
		}
	}
	return nil
}

// Unload unloads a plugin by name.
func (l *Loader) Unload(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lp, ok := l.plugins[name]
	if !ok {
		return fmt.Errorf("plugin not loaded: %s", name)
	}
	if err := lp.plugin.Cleanup(); err != nil {
		return fmt.Errorf("plugin cleanup failed: %w", err)
	}
	delete(l.plugins, name)
	return nil
}

// UnloadAll unloads all plugins.
func (l *Loader) UnloadAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []string
	for name, lp := range l.plugins {
		if err := lp.plugin.Cleanup(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	l.plugins = make(map[string]*loadedPlugin)

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Get returns a plugin by name.
func (l *Loader) Get(name string) (ScenarioPlugin, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	lp, ok := l.plugins[name]
	if !ok {
		return nil, false
	}
	return lp.plugin, true
}

// GetAll returns all loaded plugins.
func (l *Loader) GetAll() []ScenarioPlugin {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]ScenarioPlugin, 0, len(l.plugins))
	for _, lp := range l.plugins {
		result = append(result, lp.plugin)
	}
	return result
}

// List returns information about all loaded plugins.
func (l *Loader) List() []PluginInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]PluginInfo, 0, len(l.plugins))
	for _, lp := range l.plugins {
		result = append(result, lp.info)
	}
	return result
}

// Discover returns information about all discoverable plugins, loaded
// and unloaded.
func (l *Loader) Discover() []PluginInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []PluginInfo
	for _, lp := range l.plugins {
		result = append(result, lp.info)
	}

	entries, err := os.ReadDir(l.pluginDir)
	if err != nil {
		return result
	}

	loadedPaths := make(map[string]bool)
	for _, lp := range l.plugins {
		loadedPaths[lp.info.Path] = true
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".so") {
			continue
		}
		path := filepath.Join(l.pluginDir, entry.Name())
		absPath, _ := filepath.Abs(path)
		if loadedPaths[absPath] {
			continue
		}

		info := PluginInfo{
			Name:   strings.TrimSuffix(entry.Name(), ".so"),
			Path:   absPath,
			Loaded: false,
		}
		if meta := l.loadMetadata(path); meta != nil {
			info.Name = meta.Name
			info.Version = meta.Version
			info.Description = meta.Description
			info.Author = meta.Author
		}
		result = append(result, info)
	}
	return result
}

// PluginDir returns the plugin directory path.
func (l *Loader) PluginDir() string {
	return l.pluginDir
}

// Count returns the number of loaded plugins.
func (l *Loader) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.plugins)
}
