package hcl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/ctxlog"
	"github.com/vk/cutlet/internal/fsutil"
)

var errNoFiles = errors.New("no .hcl or .hcl.json files found")

// Loader loads HCL configuration into a config.Document.
type Loader struct {
	// Environ supplies the variables exposed as `env`. Defaults to os.Environ.
	Environ func() []string
}

// NewLoader returns a Loader reading the real process environment.
func NewLoader() *Loader {
	return &Loader{Environ: os.Environ}
}

// hclFile is the top-level structure of a configuration file.
type hclFile struct {
	Runtime  []*hclRuntime `hcl:"runtime,block"`
	Entities []*hclEntity  `hcl:"entity,block"`
}

type hclRuntime struct {
	Body hcl.Body `hcl:",remain"`
}

type hclEntity struct {
	Type string   `hcl:"type,label"`
	ID   string   `hcl:"id,label"`
	Body hcl.Body `hcl:",remain"`
}

// Load implements config.Loader.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Document, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading configuration.", "paths", paths)

	var files []string
	for _, p := range paths {
		found, err := fsutil.FindFiles(p, ".hcl", ".hcl.json")
		if err != nil {
			return nil, &config.LoadError{Source: p, Err: err}
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, &config.LoadError{Source: strings.Join(paths, ", "), Err: errNoFiles}
	}

	// A fresh parser per load: hclparse caches files by name.
	parser := hclparse.NewParser()
	evalCtx := newEvalContext(l.environ())

	var sections []*config.Section
	var runtimeSource string
	for _, file := range files {
		secs, err := loadFile(parser, file, evalCtx)
		if err != nil {
			return nil, err
		}
		for _, s := range secs {
			if s.Kind == "runtime" {
				if runtimeSource != "" {
					return nil, &config.LoadError{
						Source: file,
						Err:    fmt.Errorf("duplicate \"runtime\" block, first declared at %s", runtimeSource),
					}
				}
				runtimeSource = s.Source
			}
		}
		sections = append(sections, secs...)
		logger.Debug("Loaded configuration file.", "file", file, "sections", len(secs))
	}

	return config.NewDocument(files, sections), nil
}

func (l *Loader) environ() []string {
	if l.Environ == nil {
		return os.Environ()
	}
	return l.Environ()
}

// loadFile parses and evaluates a single file into top-level sections.
func loadFile(parser *hclparse.Parser, path string, evalCtx *hcl.EvalContext) ([]*config.Section, error) {
	var file *hcl.File
	var diags hcl.Diagnostics
	if strings.HasSuffix(path, ".json") {
		file, diags = parser.ParseJSONFile(path)
	} else {
		file, diags = parser.ParseHCLFile(path)
	}
	if diags.HasErrors() {
		return nil, &config.LoadError{Source: path, Err: fmt.Errorf("failed to parse: %w", diags)}
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, &config.LoadError{Source: path, Err: fmt.Errorf("failed to decode: %w", diags)}
	}

	var sections []*config.Section
	if len(parsed.Runtime) > 1 {
		return nil, &config.LoadError{Source: path, Err: errors.New("only one \"runtime\" block is allowed")}
	}
	for _, rt := range parsed.Runtime {
		s, diags := decodeSection("", "runtime", nil, rt.Body, evalCtx)
		if diags.HasErrors() {
			return nil, &config.LoadError{Source: path, Err: diags}
		}
		sections = append(sections, s)
	}
	for _, e := range parsed.Entities {
		s, diags := decodeSection("", "entity", []string{e.Type, e.ID}, e.Body, evalCtx)
		if diags.HasErrors() {
			return nil, &config.LoadError{Source: path, Err: diags}
		}
		sections = append(sections, s)
	}
	return sections, nil
}
