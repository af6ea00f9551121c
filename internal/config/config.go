// Package config holds the analysis configuration and the leveled logger.
//
// A configuration is a YAML file:
//
//	version: v1.0.0
//	entry-symbol: main
//	exit-symbol: exit
//	arch: amd64
//	max-temps: 65536
//	max-pages: 0
//	log-level: info
//	extensions: {loads: false, stores: false}
//	syscalls:
//	  - {number: 0, name: read, buf-arg: 1, len-arg: 2}
//	report: {color: auto, max-entries: 64}
//
// Fields left out take their NewDefault value.
package config

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Version is the newest configuration format this build understands.
const Version = "v1.0.0"

// Report color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Error describes an invalid configuration field.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Extensions enables propagation through operation kinds that are not
// propagated by default.
type Extensions struct {
	Loads      bool `yaml:"loads"`
	Stores     bool `yaml:"stores"`
	Unary      bool `yaml:"unary"`
	Ternary    bool `yaml:"ternary"`
	Quaternary bool `yaml:"quaternary"`
}

// SyscallSpec adds or overrides a read-like syscall.
type SyscallSpec struct {
	Number uint64 `yaml:"number"`
	Name   string `yaml:"name"`
	BufArg int    `yaml:"buf-arg"`
	LenArg int    `yaml:"len-arg"`
}

// Report controls report rendering.
type Report struct {
	// Color is one of auto, always, never.
	Color string `yaml:"color"`

	// MaxEntries caps the number of tainted addresses listed. 0 lists all.
	MaxEntries int `yaml:"max-entries"`

	// JSON selects the JSON writer instead of text.
	JSON bool `yaml:"json"`
}

// Config is the analysis configuration.
type Config struct {
	// sourceFile is the file the config was loaded from, empty for defaults.
	sourceFile string

	Version string `yaml:"version"`

	// EntrySymbol starts the tracing window.
	EntrySymbol string `yaml:"entry-symbol"`

	// ExitSymbol stops the tracing window.
	ExitSymbol string `yaml:"exit-symbol"`

	// Arch selects the shadow memory geometry and guest register layout.
	Arch string `yaml:"arch"`

	// MaxTemps sizes the shadow temp table.
	MaxTemps int `yaml:"max-temps"`

	// MaxPages bounds shadow memory pages. 0 is unlimited.
	MaxPages int `yaml:"max-pages"`

	LogLevel string `yaml:"log-level"`

	Extensions Extensions `yaml:"extensions"`

	Syscalls []SyscallSpec `yaml:"syscalls"`

	Report Report `yaml:"report"`
}

// NewDefault returns the default config.
func NewDefault() *Config {
	return &Config{
		Version:     Version,
		EntrySymbol: "main",
		ExitSymbol:  "exit",
		Arch:        "amd64",
		MaxTemps:    1 << 16,
		MaxPages:    0,
		LogLevel:    InfoLevel.String(),
		Report: Report{
			Color:      ColorAuto,
			MaxEntries: 64,
		},
	}
}

// Load reads a configuration from a file.
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	cfg.sourceFile = filename
	return cfg, nil
}

// Parse decodes and validates a YAML configuration.
func Parse(b []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = Version
	}
	if cfg.MaxTemps == 0 {
		cfg.MaxTemps = 1 << 16
	}
	if cfg.Report.Color == "" {
		cfg.Report.Color = ColorAuto
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and joins all problems found.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &Error{Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	switch {
	case !semver.IsValid(c.Version):
		bad("version", "%q is not a semantic version", c.Version)
	case semver.Major(c.Version) != semver.Major(Version):
		bad("version", "major version %s unsupported, want %s", semver.Major(c.Version), semver.Major(Version))
	case semver.Compare(c.Version, Version) > 0:
		bad("version", "%s is newer than supported %s", c.Version, Version)
	}
	if c.EntrySymbol == "" {
		bad("entry-symbol", "must not be empty")
	}
	if c.ExitSymbol == "" {
		bad("exit-symbol", "must not be empty")
	}
	switch c.Arch {
	case "amd64", "386":
	default:
		bad("arch", "unsupported architecture %q", c.Arch)
	}
	if c.MaxTemps < 0 {
		bad("max-temps", "must not be negative")
	}
	if c.MaxPages < 0 {
		bad("max-pages", "must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		bad("log-level", "%v", err)
	}
	for i, s := range c.Syscalls {
		if s.BufArg < 0 || s.BufArg > 5 || s.LenArg < 0 || s.LenArg > 5 {
			bad(fmt.Sprintf("syscalls[%d]", i), "argument index out of range 0..5")
		}
	}
	switch c.Report.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		bad("report.color", "want auto, always or never, got %q", c.Report.Color)
	}
	if c.Report.MaxEntries < 0 {
		bad("report.max-entries", "must not be negative")
	}
	return errors.Join(errs...)
}

// SourceFile returns the path the config was loaded from.
func (c *Config) SourceFile() string { return c.sourceFile }

// Level returns the parsed log level, InfoLevel if unparsable.
func (c *Config) Level() LogLevel {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return InfoLevel
	}
	return l
}

// Marshal encodes the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
