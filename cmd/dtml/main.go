package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
	"gopkg.in/yaml.v3"

	"github.com/benjaminschreck/go-dtml/pkg/dtml"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: dtml <command> [arguments]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	fmt.Fprintln(os.Stderr, "  render [flags] <template>   Render a template file")
	fmt.Fprintln(os.Stderr, "  check [flags] <template>... Parse templates and report every error")
	fmt.Fprintln(os.Stderr, "  version                     Show version information")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("dtml version %s\n", version)
	case "render":
		err = runRender(os.Args[2:], os.Stdout)
	case "check":
		err = runCheck(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dtml: %v\n", err)
		os.Exit(1)
	}
}

// newEngine builds an engine from an optional YAML configuration file.
func newEngine(configPath string, strict bool) (*dtml.Engine, error) {
	config := dtml.ConfigFromEnvironment()
	if configPath != "" {
		loaded, err := dtml.LoadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		config = loaded
	}
	if strict {
		config.StrictMode = true
	}
	return dtml.NewWithConfig(config)
}

func loadData(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse data file %s: %w", path, err)
	}
	return data, nil
}

func runRender(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	dataPath := fs.String("data", "", "YAML file with the template variables")
	stringSyntax := fs.Bool("string", false, "treat the template as %-format string syntax")
	minifyHTML := fs.Bool("minify", false, "minify the rendered HTML")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("render needs exactly one template, got %d", fs.NArg())
	}
	path := fs.Arg(0)

	engine, err := newEngine(*configPath, true)
	if err != nil {
		return err
	}
	data, err := loadData(*dataPath)
	if err != nil {
		return err
	}

	var tmpl *dtml.Template
	if *stringSyntax {
		source, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tmpl, err = engine.NewString(string(source), dtml.WithName(path))
		if err != nil {
			return err
		}
	} else {
		tmpl, err = engine.PrepareFile(path)
		if err != nil {
			return err
		}
	}

	rendered, err := tmpl.RenderBytes(nil, nil, data)
	if err != nil {
		return err
	}
	if *minifyHTML {
		m := minify.New()
		m.AddFunc("text/html", html.Minify)
		rendered, err = m.Bytes("text/html", rendered)
		if err != nil {
			return fmt.Errorf("minify: %w", err)
		}
	}
	dtml.WithFields(dtml.Fields{"path": path, "bytes": len(rendered)}).Debug("Rendered template")
	_, err = out.Write(rendered)
	return err
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("check needs at least one template")
	}

	engine, err := newEngine(*configPath, true)
	if err != nil {
		return err
	}
	if err := engine.CheckFiles(fs.Args()...); err != nil {
		return err
	}
	fmt.Printf("%d template(s) OK\n", fs.NArg())
	return nil
}
