package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kolkov/ddetector/internal/config"
	"github.com/kolkov/ddetector/internal/report"
	"github.com/kolkov/ddetector/internal/taint/engine"
)

// loadConfig reads --config (or the defaults) and applies flag overrides.
func (o *options) loadConfig() (*config.Config, error) {
	cfg := config.NewDefault()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.color != "" {
		cfg.Report.Color = o.color
	}
	if o.json {
		cfg.Report.JSON = true
	}
	if o.maxEntries >= 0 {
		cfg.Report.MaxEntries = o.maxEntries
	}
	if err := applyExtensions(&cfg.Extensions, o.extensions); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyExtensions(ext *config.Extensions, names []string) error {
	for _, name := range names {
		switch name {
		case "loads":
			ext.Loads = true
		case "stores":
			ext.Stores = true
		case "unary":
			ext.Unary = true
		case "ternary":
			ext.Ternary = true
		case "quaternary":
			ext.Quaternary = true
		case "all":
			*ext = config.Extensions{Loads: true, Stores: true, Unary: true, Ternary: true, Quaternary: true}
		default:
			return fmt.Errorf("unknown extension %q", name)
		}
	}
	return nil
}

func (o *options) logger(cfg *config.Config) *config.LogGroup {
	return config.NewLogGroupTo(o.stderr, cfg.Level())
}

// writeReport renders the session's tainted memory to w as configured.
func writeReport(w io.Writer, cfg *config.Config, s *engine.Session) error {
	r := report.Build(s)
	st := s.Stats()
	r.Engine = &st
	r.Window = s.Window().String()

	if cfg.Report.JSON {
		return report.NewJSONWriter(w, report.WithPrettyJSON()).Write(r)
	}

	mode, err := report.ParseColorMode(cfg.Report.Color)
	if err != nil {
		return err
	}
	f, _ := w.(*os.File)
	return report.NewTextWriter(w,
		report.WithColor(mode.Enabled(f)),
		report.WithMaxEntries(cfg.Report.MaxEntries),
	).Write(r)
}
