// Package config holds the settings of an update run.
//
// A Config starts from Default, is overlaid with a YAML or CUE file, then
// with command line overrides, and is validated once. It is not modified
// after Load returns.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/osmupdate/internal/converter"
	"github.com/roach88/osmupdate/internal/feed"
)

// Base URLs.
const (
	DefaultBaseURL = "https://planet.openstreetmap.org/replication"
	MirrorBaseURL  = "https://ftp5.gwdg.de/pub/misc/openstreetmap/planet.openstreetmap.org/replication"

	// MirrorKeyword selects MirrorBaseURL.
	MirrorKeyword = "mirror"
)

// Config is the complete run configuration.
type Config struct {
	BaseURL       string `yaml:"base_url" json:"base_url" validate:"required,url"`
	BaseURLSuffix string `yaml:"base_url_suffix" json:"base_url_suffix"`

	MaxDays  int `yaml:"max_days" json:"max_days" validate:"gte=1"`
	MaxMerge int `yaml:"max_merge" json:"max_merge" validate:"gte=2"`

	// TempDir caches downloaded changefiles and holds the journal.
	TempDir       string `yaml:"temp_dir" json:"temp_dir" validate:"required"`
	KeepTempFiles bool   `yaml:"keep_temp_files" json:"keep_temp_files"`

	CompressionLevel int `yaml:"compression_level" json:"compression_level" validate:"gte=1,lte=9"`

	// BBox is "west,south,east,north"; BorderPolygon a .poly file.
	BBox          string `yaml:"bbox" json:"bbox"`
	BorderPolygon string `yaml:"border_polygon" json:"border_polygon"`

	Converter string `yaml:"converter" json:"converter" validate:"required"`

	// Tiers restricts the run to these tiers; empty means autodetect.
	Tiers []string `yaml:"tiers" json:"tiers" validate:"dive,oneof=minutely hourly daily sporadic minute hour day"`

	HTTPTimeout Duration `yaml:"http_timeout" json:"http_timeout" validate:"gt=0"`
	// RateLimit caps feed requests per second; zero disables it.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`

	// MetricsFile receives a node-exporter textfile after each run.
	MetricsFile string `yaml:"metrics_file" json:"metrics_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:          DefaultBaseURL,
		MaxDays:          250,
		MaxMerge:         7,
		TempDir:          filepath.Join(os.TempDir(), "osmupdate"),
		CompressionLevel: 3,
		Converter:        "osmconvert",
		HTTPTimeout:      Duration(60 * time.Second),
	}
}

// Override changes a loaded configuration before validation.
type Override func(*Config)

// Load builds a configuration from the defaults, the file at path (skipped
// when path is empty) and the overrides, in that order of increasing
// precedence. The result is validated.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	for _, o := range overrides {
		o(cfg)
	}
	if cfg.BaseURL == MirrorKeyword {
		cfg.BaseURL = MirrorBaseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return fmt.Errorf("failed to compile %s: %w", path, err)
		}
		if err := v.Validate(cue.Concrete(true)); err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}
		js, err := v.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to export %s: %w", path, err)
		}
		dec := json.NewDecoder(bytes.NewReader(js))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file type %q (want .yaml, .yml or .cue)", ext)
	}
	return nil
}

var validate = validator.New()

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Fields, "; ")
}

// Validate checks the field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, describe(fe))
	}
	return out
}

func describe(fe validator.FieldError) string {
	name := fe.Namespace()
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "url":
		return fmt.Sprintf("%s %q is not a URL", name, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s %q is not a tier", name, fe.Value())
	default:
		return fmt.Sprintf("%s must be %s %s (got %v)", name, fe.Tag(), fe.Param(), fe.Value())
	}
}

// Kinds returns the requested tiers.
func (c *Config) Kinds() ([]feed.Kind, error) {
	var out []feed.Kind
	for _, name := range c.Tiers {
		k, err := feed.ParseKind(name)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// Layout is the remote path layout of the configured feed.
func (c *Config) Layout() feed.Layout {
	return feed.Layout{BaseURL: c.BaseURL, Suffix: c.BaseURLSuffix}
}

// ExtraArgs returns the converter arguments restricting the region.
func (c *Config) ExtraArgs() []string {
	var args []string
	if c.BorderPolygon != "" {
		args = append(args, converter.PolygonArg(c.BorderPolygon))
	}
	if c.BBox != "" {
		args = append(args, converter.BBoxArg(c.BBox))
	}
	return args
}

// Duration is a time.Duration written as "30s" in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalJSON accepts a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	return d.parse(s)
}

// MarshalJSON writes the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
