package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bloomdevelop/weasel/internal/catalog"
	"github.com/bloomdevelop/weasel/internal/driver"
	"github.com/bloomdevelop/weasel/internal/kernel"
	"github.com/bloomdevelop/weasel/internal/plugin"
	"github.com/bloomdevelop/weasel/modules/commands"
	"github.com/bloomdevelop/weasel/pkg/bytesize"
	"github.com/bloomdevelop/weasel/pkg/weasel"
)

const (
	envConfigFile = "WEASEL_CONFIG_FILE"
	envPrefix     = "WEASEL_PREFIX"
	envPluginRoot = "WEASEL_PLUGIN_ROOT"

	defaultSettingsDatabase = "data/weasel.db"
)

// configCandidates are tried in order when WEASEL_CONFIG_FILE is unset.
var configCandidates = []string{"config/bot.json", "config/bot.yaml", "bin/config/bot.json"}

// moduleNames lists the modules the bot registers, for routing validation.
var moduleNames = []string{"commands"}

type isolationMode string

const (
	isolationLocal   isolationMode = "local"
	isolationProcess isolationMode = "process"
)

// duration decodes from a Go duration string and must be positive.
type duration time.Duration

func (d *duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}

	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	switch {
	case err != nil:
		return fmt.Errorf("duration %q: %w", raw, err)
	case parsed <= 0:
		return fmt.Errorf("duration %q: must be > 0", raw)
	}
	*d = duration(parsed)

	return nil
}

func (d duration) std() time.Duration { return time.Duration(d) }

// config mirrors the config file. Fields hold defaults before decoding, and
// the unexported tail is derived by finish.
type config struct {
	LogLevel slog.Level `json:"log_level"`
	Kernel   struct {
		ModuleHookTimeout   duration `json:"module_hook_timeout"`
		ShutdownTimeout     duration `json:"shutdown_timeout"`
		SubscriptionBuffer  int      `json:"subscription_buffer"`
		SubscriptionWorkers int      `json:"subscription_workers"`
	} `json:"kernel"`
	Drivers []driverEntry `json:"drivers"`
	Routing struct {
		Default *routeEntry           `json:"default"`
		Modules map[string]routeEntry `json:"modules"`
	} `json:"routing"`
	Plugins struct {
		Root             string                 `json:"root"`
		Isolation        isolationMode          `json:"isolation"`
		DuplicatePolicy  plugin.DuplicatePolicy `json:"duplicate_policy"`
		DiscoveryTimeout duration               `json:"discovery_timeout"`
	} `json:"plugins"`
	Commands struct {
		Prefix        string         `json:"prefix"`
		StoreCapacity int            `json:"store_capacity"`
		SizeUnits     bytesize.Units `json:"size_units"`
		BufferPreview int            `json:"buffer_preview"`
	} `json:"commands"`
	Settings struct {
		Database string `json:"database"`
	} `json:"settings"`

	definitions  []driver.Definition
	defaultRoute *kernel.ModuleRoute
	moduleRoutes map[string]kernel.ModuleRoute
}

type driverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type routeEntry struct {
	Sources []endpoint `json:"sources"`
	Sink    *endpoint  `json:"sink"`
}

type endpoint struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

func defaultConfig() config {
	var cfg config
	cfg.LogLevel = slog.LevelInfo
	cfg.Kernel.ModuleHookTimeout = duration(3 * time.Second)
	cfg.Kernel.ShutdownTimeout = duration(10 * time.Second)
	cfg.Kernel.SubscriptionBuffer = 256
	cfg.Kernel.SubscriptionWorkers = 2
	cfg.Plugins.Root = "plugins"
	cfg.Plugins.Isolation = isolationProcess
	cfg.Plugins.DuplicatePolicy = plugin.DuplicateLastWins
	cfg.Plugins.DiscoveryTimeout = duration(time.Minute)
	cfg.Commands.Prefix = commands.DefaultPrefix
	cfg.Commands.StoreCapacity = catalog.DefaultCapacity
	cfg.Commands.SizeUnits = bytesize.Binary
	cfg.Commands.BufferPreview = commands.DefaultBufferPreview
	cfg.Settings.Database = defaultSettingsDatabase

	return cfg
}

// loadConfig finds, decodes and checks the config file, then applies the
// environment overrides.
func loadConfig(registry *driver.Registry) (config, error) {
	path, err := findConfigFile()
	if err != nil {
		return config{}, err
	}

	cfg, err := readConfig(path)
	if err != nil {
		return config{}, err
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.finish(registry); err != nil {
		return config{}, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

func findConfigFile() (string, error) {
	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		return path, nil
	}

	for _, candidate := range configCandidates {
		info, err := os.Stat(candidate)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		case info.IsDir():
			return "", fmt.Errorf("config path %s is a directory", candidate)
		}
		return candidate, nil
	}

	return "", fmt.Errorf("no config file: create one of %s or set %s",
		strings.Join(configCandidates, ", "), envConfigFile)
}

// readConfig decodes path over the defaults. YAML files are converted to JSON
// first so both formats share one schema and driver blocks stay JSON.
func readConfig(path string) (config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config{}, fmt.Errorf("read config: %w", err)
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var document any
		if err := yaml.Unmarshal(data, &document); err != nil {
			return config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(document); err != nil {
			return config{}, fmt.Errorf("convert %s to json: %w", path, err)
		}
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

func (c *config) applyEnv(getenv func(string) string) {
	if prefix := strings.TrimSpace(getenv(envPrefix)); prefix != "" {
		c.Commands.Prefix = prefix
	}
	if root := strings.TrimSpace(getenv(envPluginRoot)); root != "" {
		c.Plugins.Root = root
	}
}

// finish validates decoded values and derives driver definitions and routes.
func (c *config) finish(registry *driver.Registry) error {
	if err := c.checkScalars(); err != nil {
		return err
	}

	enabled, err := c.buildDefinitions(registry)
	if err != nil {
		return err
	}

	return c.buildRoutes(registry, enabled)
}

func (c *config) checkScalars() error {
	positives := []struct {
		field string
		value int
	}{
		{"kernel.subscription_buffer", c.Kernel.SubscriptionBuffer},
		{"kernel.subscription_workers", c.Kernel.SubscriptionWorkers},
		{"commands.store_capacity", c.Commands.StoreCapacity},
		{"commands.buffer_preview", c.Commands.BufferPreview},
	}
	for _, positive := range positives {
		if positive.value <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", positive.field, positive.value)
		}
	}

	switch mode := isolationMode(strings.ToLower(strings.TrimSpace(string(c.Plugins.Isolation)))); mode {
	case isolationLocal, isolationProcess:
		c.Plugins.Isolation = mode
	default:
		return fmt.Errorf("plugins.isolation: unsupported value %q", c.Plugins.Isolation)
	}

	var err error
	if c.Plugins.DuplicatePolicy, err = plugin.ParseDuplicatePolicy(string(c.Plugins.DuplicatePolicy)); err != nil {
		return fmt.Errorf("plugins.duplicate_policy: %w", err)
	}
	if c.Commands.SizeUnits, err = bytesize.ParseUnits(string(c.Commands.SizeUnits)); err != nil {
		return fmt.Errorf("commands.size_units: %w", err)
	}
	if c.Commands.Prefix == "" || strings.TrimSpace(c.Commands.Prefix) != c.Commands.Prefix {
		return fmt.Errorf("commands.prefix %q: must be non-empty without surrounding whitespace", c.Commands.Prefix)
	}
	c.Plugins.Root = strings.TrimSpace(c.Plugins.Root)
	c.Settings.Database = strings.TrimSpace(c.Settings.Database)
	if c.Plugins.Root == "" || c.Settings.Database == "" {
		return errors.New("plugins.root and settings.database must not be empty")
	}

	return nil
}

// buildDefinitions returns the enabled definitions keyed by name.
func (c *config) buildDefinitions(registry *driver.Registry) (map[string]driver.Definition, error) {
	c.definitions = make([]driver.Definition, 0, len(c.Drivers))
	enabled := make(map[string]driver.Definition, len(c.Drivers))
	names := make(map[string]bool, len(c.Drivers))

	for index, entry := range c.Drivers {
		definition := driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: entry.Enabled == nil || *entry.Enabled,
		}
		if len(entry.Config) > 0 && string(entry.Config) != "null" {
			definition.Config = append([]byte(nil), entry.Config...)
		}

		switch {
		case definition.Name == "":
			return nil, fmt.Errorf("drivers[%d]: name is required", index)
		case definition.Type == "":
			return nil, fmt.Errorf("drivers[%s]: type is required", definition.Name)
		case names[definition.Name]:
			return nil, fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		names[definition.Name] = true
		c.definitions = append(c.definitions, definition)

		if !definition.Enabled {
			continue
		}
		if _, err := registry.PlatformForType(definition.Type); err != nil {
			return nil, fmt.Errorf("drivers[%s].type: %w", definition.Name, err)
		}
		enabled[definition.Name] = definition
	}
	if len(enabled) == 0 {
		return nil, errors.New("at least one enabled driver is required")
	}

	return enabled, nil
}

func (c *config) buildRoutes(registry *driver.Registry, enabled map[string]driver.Definition) error {
	c.moduleRoutes = make(map[string]kernel.ModuleRoute, len(c.Routing.Modules))
	for module, entry := range c.Routing.Modules {
		scope := "routing.modules." + module
		if !isKnownModule(module) {
			return fmt.Errorf("%s: unknown module", scope)
		}
		route, err := entry.resolve(scope, enabled)
		if err != nil {
			return err
		}
		c.moduleRoutes[module] = route
	}

	c.defaultRoute = nil
	if c.Routing.Default != nil {
		route, err := c.Routing.Default.resolve("routing.default", enabled)
		if err != nil {
			return err
		}
		c.defaultRoute = &route
		return nil
	}

	if len(enabled) == 1 {
		for _, sole := range enabled {
			platform, err := registry.PlatformForType(sole.Type)
			if err != nil {
				return fmt.Errorf("default route for %s: %w", sole.Name, err)
			}
			c.defaultRoute = &kernel.ModuleRoute{
				Sources: []weasel.EventSource{{Platform: platform, ID: sole.Name}},
				Sink:    &weasel.EventSink{Platform: platform, ID: sole.Name},
			}
		}
		return nil
	}

	for _, module := range moduleNames {
		if _, routed := c.moduleRoutes[module]; !routed {
			return fmt.Errorf("routing.default is required with %d drivers unless every module is routed", len(enabled))
		}
	}

	return nil
}

func isKnownModule(name string) bool {
	for _, module := range moduleNames {
		if module == name {
			return true
		}
	}

	return false
}

// resolve converts the entry and checks every driver id it names is enabled.
func (r routeEntry) resolve(scope string, enabled map[string]driver.Definition) (kernel.ModuleRoute, error) {
	if r.Sink == nil {
		return kernel.ModuleRoute{}, fmt.Errorf("%s.sink is required", scope)
	}

	check := func(where string, ref endpoint) (weasel.Platform, string, error) {
		platform, id := weasel.Platform(strings.TrimSpace(ref.Platform)), strings.TrimSpace(ref.ID)
		if platform == "" && id == "" {
			return "", "", fmt.Errorf("%s: empty reference", where)
		}
		if _, ok := enabled[id]; id != "" && !ok {
			return "", "", fmt.Errorf("%s: unknown driver id %s", where, id)
		}
		return platform, id, nil
	}

	route := kernel.ModuleRoute{Sources: make([]weasel.EventSource, 0, len(r.Sources))}
	for index, ref := range r.Sources {
		platform, id, err := check(fmt.Sprintf("%s.sources[%d]", scope, index), ref)
		if err != nil {
			return kernel.ModuleRoute{}, err
		}
		route.Sources = append(route.Sources, weasel.EventSource{Platform: platform, ID: id})
	}

	platform, id, err := check(scope+".sink", *r.Sink)
	if err != nil {
		return kernel.ModuleRoute{}, err
	}
	route.Sink = &weasel.EventSink{Platform: platform, ID: id}

	return route, nil
}
