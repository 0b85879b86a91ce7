package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/marte-community/dt-engine/internal/builder"
	"github.com/marte-community/dt-engine/internal/codec"
	"github.com/marte-community/dt-engine/internal/config"
	"github.com/marte-community/dt-engine/internal/dt"
	"github.com/marte-community/dt-engine/internal/formatter"
	"github.com/marte-community/dt-engine/internal/logger"
	"github.com/marte-community/dt-engine/internal/lsp"
	"github.com/marte-community/dt-engine/internal/parser"
	"github.com/marte-community/dt-engine/internal/schema"
	"github.com/marte-community/dt-engine/internal/store"
	"github.com/marte-community/dt-engine/internal/value"
)

func usage() {
	logger.Println("Usage: dt [-config dt.toml] <command> [arguments]")
	logger.Println("Commands: lsp, check, build, fmt, pack, query, init")
	logger.Println("  check [-cache] [content_dir]")
	logger.Println("  build [-o output_file] [-eval] [content_dir]")
	logger.Println("  fmt <input_files...>")
	logger.Println("  pack [-o output_file] [content_dir]")
	logger.Println("  query [-var key=value]... [-random] <path> [content_dir]")
	logger.Println("  init <project_dir>")
}

func main() {
	args := os.Args[1:]
	cfgPath := ""
	if len(args) >= 2 && args[0] == "-config" {
		cfgPath = args[1]
		args = args[2:]
	}
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("Error loading config: %v", err)
	}
	logger.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command := args[0]
	switch command {
	case "lsp":
		runLSP(ctx, cfg)
	case "check":
		runCheck(ctx, cfg, args[1:])
	case "build":
		runBuild(ctx, cfg, args[1:])
	case "fmt":
		runFmt(args[1:])
	case "pack":
		runPack(ctx, cfg, args[1:])
	case "query":
		runQuery(ctx, cfg, args[1:])
	case "init":
		runInit(args[1:])
	default:
		logger.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}
}

// globals converts the configured globals to values: numbers and quoted
// strings keep their literal meaning, anything else is a plain string.
func globals(cfg *config.Config) dt.VarsMap {
	out := make(dt.VarsMap, len(cfg.Globals))
	for k, text := range cfg.Globals {
		v, err := dt.ParseLiteral(text)
		if err != nil || v.Kind() == value.KindObject || v.IsUnknown() {
			v = value.FromString(text)
		}
		out[k] = v
	}
	return out
}

func newDT(cfg *config.Config) *dt.DT {
	d := dt.New()
	for k, v := range globals(cfg) {
		d.SetGlobal(k, v)
	}
	if cfg.Seed != 0 {
		d.SetSeed(cfg.Seed)
	}
	return d
}

func loadSchema(cfg *config.Config) *schema.Schema {
	if cfg.Schema == "" {
		return nil
	}
	s, err := schema.LoadSchema(cfg.Schema)
	if err != nil {
		logger.Fatalf("Error loading schema %s: %v", cfg.Schema, err)
	}
	return s
}

// load reads the content directory and mods, through the cache when asked.
func load(ctx context.Context, cfg *config.Config, useCache bool) *dt.DT {
	d := newDT(cfg)
	var cache store.BlobStore
	if useCache {
		s, err := store.Open(ctx, cfg.Cache)
		if err != nil {
			logger.Fatalf("Error opening cache: %v", err)
		}
		defer s.Close()
		cache = s
	}
	hit, err := store.Load(ctx, cache, d, cfg.ContentDir, cfg.Mods)
	if err != nil {
		logger.Fatalf("Error loading %s: %v", cfg.ContentDir, err)
	}
	logger.Info("content loaded",
		"dir", cfg.ContentDir,
		"mods", len(cfg.Mods),
		"roots", len(d.Roots()),
		"cached", hit,
		"generation", d.Generation().String())

	if s := loadSchema(cfg); s != nil {
		s.Validate(d)
	}
	return d
}

// contentArg lets a trailing positional argument override the content
// directory.
func contentArg(cfg *config.Config, rest []string) {
	if len(rest) > 1 {
		usage()
		os.Exit(1)
	}
	if len(rest) == 1 {
		cfg.ContentDir = rest[0]
	}
}

func printDiagnostics(d *dt.DT) int {
	diags := d.Errors()
	for _, diag := range diags {
		level := "ERROR"
		if diag.Level == dt.LevelWarning {
			level = "WARNING"
		}
		logger.Printf("%s:%d:%d: %s: %s: %s\n", diag.File, diag.Position.Line, diag.Position.Column, level, diag.Kind, diag.Message)
	}
	return len(diags)
}

func runLSP(ctx context.Context, cfg *config.Config) {
	if err := lsp.RunServer(ctx, loadSchema(cfg), globals(cfg)); err != nil && ctx.Err() == nil {
		logger.Fatalf("LSP server failed: %v", err)
	}
}

func runCheck(ctx context.Context, cfg *config.Config, args []string) {
	useCache := false
	var rest []string
	for _, a := range args {
		if a == "-cache" {
			useCache = true
		} else {
			rest = append(rest, a)
		}
	}
	contentArg(cfg, rest)

	d := load(ctx, cfg, useCache)
	if n := printDiagnostics(d); n > 0 {
		logger.Printf("\nFound %d issues.\n", n)
		if d.HasErrors() {
			os.Exit(1)
		}
		return
	}
	logger.Println("No issues found.")
}

func runBuild(ctx context.Context, cfg *config.Config, args []string) {
	var outputFilePath string
	var opts builder.Options
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o":
			if i+1 >= len(args) {
				logger.Println("Error: -o requires a file path")
				os.Exit(1)
			}
			outputFilePath = args[i+1]
			i++
		case "-eval":
			opts.Evaluate = true
		default:
			rest = append(rest, args[i])
		}
	}
	contentArg(cfg, rest)

	d := load(ctx, cfg, false)
	if printDiagnostics(d) > 0 && d.HasErrors() {
		logger.Println("Build failed.")
		os.Exit(1)
	}

	output := os.Stdout
	if outputFilePath != "" {
		f, err := os.Create(outputFilePath)
		if err != nil {
			logger.Fatalf("Error creating output file %s: %v", outputFilePath, err)
		}
		defer f.Close()
		output = f
	}
	if err := builder.NewBuilder(opts).Build(d, output); err != nil {
		logger.Fatalf("Build failed: %v", err)
	}
}

func runFmt(args []string) {
	if len(args) < 1 {
		logger.Println("Usage: dt fmt <input_files...>")
		os.Exit(1)
	}

	for _, file := range args {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Printf("Error reading %s: %v\n", file, err)
			continue
		}

		p := parser.NewFileParser(file, string(content))
		conf, _ := p.Parse()
		if errs := p.Errors(); len(errs) > 0 {
			logger.Printf("Error parsing %s: %v\n", file, errs[0])
			continue
		}

		var buf bytes.Buffer
		formatter.Format(conf, &buf)
		if bytes.Equal(buf.Bytes(), content) {
			continue
		}
		if err := os.WriteFile(file, buf.Bytes(), 0644); err != nil {
			logger.Printf("Error writing %s: %v\n", file, err)
			continue
		}
		logger.Printf("Formatted %s\n", file)
	}
}

func runPack(ctx context.Context, cfg *config.Config, args []string) {
	var outputFilePath string
	var rest []string
	for i := 0; i < len(args); i++ {
		if args[i] == "-o" && i+1 < len(args) {
			outputFilePath = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	contentArg(cfg, rest)

	d := load(ctx, cfg, false)
	if printDiagnostics(d) > 0 && d.HasErrors() {
		logger.Println("Pack failed.")
		os.Exit(1)
	}
	data, err := codec.Marshal(d.Roots())
	if err != nil {
		logger.Fatalf("Pack failed: %v", err)
	}

	if outputFilePath != "" {
		if err := os.WriteFile(outputFilePath, data, 0644); err != nil {
			logger.Fatalf("Error writing %s: %v", outputFilePath, err)
		}
		logger.Printf("Wrote %s (%d bytes)\n", outputFilePath, len(data))
		return
	}

	s, err := store.Open(ctx, cfg.Cache)
	if err != nil {
		logger.Fatalf("Error opening cache: %v", err)
	}
	defer s.Close()
	key, err := store.Key(d, append([]string{cfg.ContentDir}, cfg.Mods...)...)
	if err != nil {
		logger.Fatalf("Pack failed: %v", err)
	}
	if err := s.Put(ctx, &store.Blob{Key: key, Generation: d.Generation().String(), Data: data}); err != nil {
		logger.Fatalf("Pack failed: %v", err)
	}
	logger.Printf("Stored %s (%d bytes)\n", key, len(data))
}

func runQuery(ctx context.Context, cfg *config.Config, args []string) {
	vars := make(dt.VarsMap)
	random := false
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-var":
			if i+1 >= len(args) {
				logger.Println("Error: -var requires key=value")
				os.Exit(1)
			}
			k, text, ok := strings.Cut(args[i+1], "=")
			if !ok {
				logger.Fatalf("Error: bad -var %q, want key=value", args[i+1])
			}
			v, err := dt.ParseLiteral(text)
			if err != nil || v.Kind() == value.KindObject {
				v = value.FromString(text)
			}
			vars[k] = v
			i++
		case "-random":
			random = true
		default:
			rest = append(rest, args[i])
		}
	}
	if len(rest) < 1 {
		logger.Println("Usage: dt query [-var key=value]... [-random] <path> [content_dir]")
		os.Exit(1)
	}
	path := rest[0]
	contentArg(cfg, rest[1:])

	d := load(ctx, cfg, false)
	f := d.Find(path)
	if f == nil {
		logger.Fatalf("Not found: %s", path)
	}

	out := f.Export(vars)
	if random {
		out = dt.Native(f.RandomValue(vars))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatalf("Error writing result: %v", err)
	}
}

func runInit(args []string) {
	if len(args) < 1 {
		logger.Println("Usage: dt init <project_dir>")
		os.Exit(1)
	}

	root := args[0]
	if err := os.MkdirAll(filepath.Join(root, "content"), 0755); err != nil {
		logger.Fatalf("Error creating project directories: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "mods"), 0755); err != nil {
		logger.Fatalf("Error creating project directories: %v", err)
	}

	files := map[string]string{
		"dt.toml":           "content_dir = \"content\"\nmods = []\nschema = \"schema.cue\"\n\n[globals]\n\n[log]\nlevel = \"info\"\nformat = \"text\"\n\n[cache]\nsqlite = \".dt/cache.db\"\n",
		"schema.cue":        "types: {\n\t// unit: { hp!: int & >0 }\n}\n",
		"content/main.def":  "// Definitions are loaded in name order, .def before .csv, then subdirectories.\nunit Base {\n  hp = 1\n}\n",
		"content/units.csv": "unit *,hp,armor\ndefault,1,0\nSoldier,10,\n",
	}

	for path, content := range files {
		full := filepath.Join(root, path)
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			logger.Fatalf("Error creating file %s: %v", full, err)
		}
		logger.Printf("Created %s\n", full)
	}

	logger.Printf("Project '%s' initialized successfully.\n", root)
}
