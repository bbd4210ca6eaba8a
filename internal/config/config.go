// Package config loads the YAML configuration of topo2st: logging, safety
// markers, output layout, the plugin catalog and the product templates.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/damischa1/topo2st/internal/decl"
	"github.com/damischa1/topo2st/internal/generator"
	"github.com/damischa1/topo2st/internal/safety"
)

var validate = validator.New()

// Output formats.
const (
	FormatST      = "st"
	FormatPLCopen = "plcopen"
)

// Config is the root of the configuration file.
type Config struct {
	Log       LogConfig                `yaml:"log"`
	Safety    SafetyConfig             `yaml:"safety"`
	Output    OutputConfig             `yaml:"output"`
	PluginDir string                   `yaml:"pluginDir"`
	Plugins   []PluginConfig           `yaml:"plugins" validate:"unique=Name,dive"`
	Templates map[string]decl.Template `yaml:"templates" validate:"dive"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// SafetyConfig holds the sub-module name markers.
type SafetyConfig struct {
	Marker             string `yaml:"marker" validate:"required"`
	LongPreambleMarker string `yaml:"longPreambleMarker" validate:"required"`
}

// OutputConfig describes where and how artifacts are written.
type OutputConfig struct {
	Dir     string        `yaml:"dir" validate:"required"`
	Format  string        `yaml:"format" validate:"oneof=st plcopen"`
	Project string        `yaml:"project" validate:"required"`
	Flat    bool          `yaml:"flat"`
	Folders FoldersConfig `yaml:"folders"`
}

// FoldersConfig names the project folder of each artifact family.
type FoldersConfig struct {
	EtherCAT string `yaml:"ethercat"`
	Profinet string `yaml:"profinet"`
	Plugins  string `yaml:"plugins"`
	Mapping  string `yaml:"mapping"`
}

// PluginConfig is one plugin interface as written in YAML.
type PluginConfig struct {
	Name    string          `yaml:"name" validate:"required"`
	Kind    string          `yaml:"kind" validate:"omitempty,oneof=none address struct"`
	Link    string          `yaml:"link"`
	Inputs  []ElementConfig `yaml:"inputs" validate:"dive"`
	Outputs []ElementConfig `yaml:"outputs" validate:"dive"`
}

// ElementConfig is one plugin variable.
type ElementConfig struct {
	Name string `yaml:"name" validate:"required"`
	Type string `yaml:"type" validate:"required"`
	Link string `yaml:"link"`
}

// Default returns the built-in configuration.
func Default() *Config {
	opts := generator.DefaultOptions()
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Safety: SafetyConfig{
			Marker:             opts.Markers.Safety,
			LongPreambleMarker: opts.Markers.LongPreamble,
		},
		Output: OutputConfig{
			Dir:     "src",
			Format:  FormatST,
			Project: "Topology",
			Folders: FoldersConfig{
				EtherCAT: opts.Folders.EtherCAT,
				Profinet: opts.Folders.Profinet,
				Plugins:  opts.Folders.Plugins,
				Mapping:  opts.Folders.Mapping,
			},
		},
	}
}

// Parse reads a configuration from r on top of the defaults. Unknown keys
// are rejected. An empty document yields the defaults.
func Parse(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads the configuration file at path. Plugins found in PluginDir,
// resolved relative to the file, are appended to the inline ones.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	c, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	if c.PluginDir != "" {
		dir := c.PluginDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(path), dir)
		}
		if err := c.LoadPluginDir(dir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadPluginDir appends every *.yaml / *.yml plugin file of dir, in file name
// order. A missing directory is not an error.
func (c *Config) LoadPluginDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read plugin dir %s", dir)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, n := range names {
		p := filepath.Join(dir, n)
		raw, err := os.ReadFile(p)
		if err != nil {
			return errors.Wrapf(err, "read plugin %s", p)
		}
		var pl PluginConfig
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&pl); err != nil {
			return errors.Wrapf(err, "decode plugin %s", p)
		}
		c.Plugins = append(c.Plugins, pl)
	}
	return c.Validate()
}

// Validate checks struct tags plus the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	for _, p := range c.Plugins {
		if p.Kind == "struct" && len(p.Inputs) == 0 && len(p.Outputs) == 0 {
			return errors.Errorf("plugin %s: struct plugin without inputs or outputs", p.Name)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate config")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Namespace() + ": failed '" + fe.Tag() + "'"
		if fe.Param() != "" {
			msg += " (" + fe.Param() + ")"
		}
		msgs = append(msgs, msg)
	}
	return errors.New("invalid config: " + strings.Join(msgs, "; "))
}

// Options returns the generator options described by c.
func (c *Config) Options() generator.Options {
	return generator.Options{
		Markers: safety.Markers{
			Safety:       c.Safety.Marker,
			LongPreamble: c.Safety.LongPreambleMarker,
		},
		Folders: generator.Folders{
			EtherCAT: c.Output.Folders.EtherCAT,
			Profinet: c.Output.Folders.Profinet,
			Plugins:  c.Output.Folders.Plugins,
			Mapping:  c.Output.Folders.Mapping,
		},
	}
}
