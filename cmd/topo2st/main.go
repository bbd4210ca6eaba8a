// topo2st: TwinCAT topology to IEC 61131-3 declaration generator
// Reads a TwinCAT I/O topology export and writes linked global variable
// lists, plugin structs and the mapping programs for safety modules.
//
// Every process-image variable is declared AT %I* / %Q* and carries a
// {attribute 'TcLinkTo'} pragma, so the engineering tool links it to the
// bus on import.
//
// Usage:
//
//	topo2st -in <topology.xml> [-config <file>] [-out <dir>] [-format st|plcopen]
//
// Flags:
//
//	-in          topology export (required)
//	-config      YAML configuration file (built-in defaults when empty)
//	-out         output root directory (overrides output.dir)
//	-format      st or plcopen (overrides output.format)
//	-flat        write .st files without subdirectories
//	-plugins     comma separated plugin names (default: every configured plugin)
//	-log-level   logrus level (overrides log.level)
//	-log-format  text or json (overrides log.format)
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/damischa1/topo2st/internal/config"
	"github.com/damischa1/topo2st/internal/generator"
	"github.com/damischa1/topo2st/internal/sink"
	"github.com/damischa1/topo2st/internal/topology"
)

type flags struct {
	in        string
	config    string
	out       string
	format    string
	flat      bool
	plugins   string
	logLevel  string
	logFormat string
}

func main() {
	var f flags
	flag.StringVar(&f.in, "in", "", "topology export XML file (required)")
	flag.StringVar(&f.config, "config", "", "YAML configuration file")
	flag.StringVar(&f.out, "out", "", "output root directory")
	flag.StringVar(&f.format, "format", "", "output format: st or plcopen")
	flag.BoolVar(&f.flat, "flat", false, "write all .st files flat, no subdirectories")
	flag.StringVar(&f.plugins, "plugins", "", "comma separated plugin names")
	flag.StringVar(&f.logLevel, "log-level", "", "log level")
	flag.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "topo2st: generate IEC 61131-3 declarations from a TwinCAT topology export")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Usage:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if f.in == "" {
		fmt.Fprintln(os.Stderr, "usage: topo2st -in <topology.xml> [-config <file>] [-out <dir>] [-format st|plcopen]")
		os.Exit(1)
	}

	if err := run(f); err != nil {
		fmt.Fprintln(os.Stderr, "topo2st:", err)
		os.Exit(1)
	}
}

func loadConfig(f flags) (*config.Config, error) {
	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config); err != nil {
			return nil, err
		}
	}
	if f.out != "" {
		cfg.Output.Dir = f.out
	}
	if f.format != "" {
		cfg.Output.Format = strings.ToLower(f.format)
	}
	if f.flat {
		cfg.Output.Flat = true
	}
	if f.logLevel != "" {
		cfg.Log.Level = strings.ToLower(f.logLevel)
	}
	if f.logFormat != "" {
		cfg.Log.Format = strings.ToLower(f.logFormat)
	}
	return cfg, cfg.Validate()
}

func pluginNames(list string, cat *config.Catalog) []string {
	if strings.TrimSpace(list) == "" {
		return cat.PluginNames()
	}
	var names []string
	for _, n := range strings.Split(list, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func run(f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	log, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	tree, err := topology.ParseFile(f.in)
	if err != nil {
		return err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}

	gen := generator.New(cat, cat, cfg.Options(), log)
	res := gen.Run(tree, pluginNames(f.plugins, cat))

	var out generator.Sink
	switch cfg.Output.Format {
	case config.FormatPLCopen:
		out = sink.NewPLCopen(cfg.Output.Dir, cfg.Output.Project, log)
	case config.FormatST:
		out = sink.NewSTFiles(cfg.Output.Dir, cfg.Output.Flat, log)
	default:
		return errors.Errorf("unknown output format %q", cfg.Output.Format)
	}
	if err := generator.Publish(out, res); err != nil {
		return err
	}

	for _, a := range res.Artifacts {
		fmt.Printf("  %-10s  %s\n", a.Kind, strings.TrimPrefix(a.Folder+"/"+a.Name, "/"))
	}
	if p, ok := out.(*sink.PLCopen); ok {
		fmt.Printf("  %-10s  %s\n", "PROJECT", p.Path())
	}
	log.WithFields(logrus.Fields{
		"format": cfg.Output.Format,
		"dir":    cfg.Output.Dir,
	}).Debug("output published")
	fmt.Printf("\nDone: %d artifacts, %d variables, %d safety pairings, %d dropped\n",
		len(res.Artifacts), len(res.Variables), len(res.Pairings), res.Dropped)
	return nil
}
