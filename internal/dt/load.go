package dt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"

	"github.com/marte-community/dt-engine/internal/expr"
	"github.com/marte-community/dt-engine/internal/logger"
	"github.com/marte-community/dt-engine/internal/parser"
	"github.com/marte-community/dt-engine/internal/tabular"
	"github.com/marte-community/dt-engine/internal/value"
)

// File extensions picked up by LoadDir.
const (
	DefExt = ".def"
	CSVExt = ".csv"
)

// source is one parsed input, ready to be turned into fields.
type source struct {
	name   string
	text   string
	config *parser.Configuration
	errs   []*parser.Error
	err    error
}

func parseSource(name, text string) source {
	src := source{name: name, text: text}
	if strings.EqualFold(filepath.Ext(name), CSVExt) {
		src.config, src.err = tabular.Parse(name, text)
		return src
	}
	p := parser.NewFileParser(name, text)
	src.config, _ = p.Parse()
	src.errs = p.Errors()
	return src
}

// decodeText converts file content to UTF-8, honoring a UTF-8 or UTF-16
// byte order mark.
func decodeText(data []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// LoadText parses definition text and registers it as a file. The result is
// nil when a leading #if excludes the file. Call Resolve once all files are
// loaded.
func (d *DT) LoadText(name, text string) *Field {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.register(d.build(parseSource(name, text)))
}

// LoadCSV imports a CSV sheet as a file.
func (d *DT) LoadCSV(name, text string) *Field {
	if !strings.EqualFold(filepath.Ext(name), CSVExt) {
		name += CSVExt
	}
	return d.LoadText(name, text)
}

// LoadFile reads and registers a .def or .csv file.
func (d *DT) LoadFile(path string) (*Field, error) {
	src, err := readSource(path)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.register(d.build(src)), nil
}

func readSource(path string) (source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("read %s: %w", path, err)
	}
	text, err := decodeText(data)
	if err != nil {
		return source{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return parseSource(filepath.ToSlash(path), text), nil
}

// LoadDir loads every definition file below root, then resolves the whole
// set.
func (d *DT) LoadDir(root string) error {
	sources, err := readDir(root)
	if err != nil {
		return err
	}
	d.mu.Lock()
	for _, src := range sources {
		d.register(d.build(src))
	}
	d.mu.Unlock()
	d.Resolve()
	return nil
}

// readDir lists root in load order and parses the files concurrently. A file
// that cannot be read or decoded becomes a source carrying the error, so it
// is reported without stopping the rest of the load.
func readDir(root string) ([]source, error) {
	paths, err := listDir(root)
	if err != nil {
		return nil, err
	}

	sources := make([]source, len(paths))
	errs := make([]error, len(paths))
	var wg sync.WaitGroup
	sem := make(chan struct{}, 8) // Limit concurrency

	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			logger.Debug("loading", "file", filepath.Base(path), "path", path)
			sources[i], errs[i] = readSource(path)
		}(i, path)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			logger.Warn("skipping unreadable file", "path", paths[i], "error", err)
			sources[i] = source{name: filepath.ToSlash(paths[i]), err: err}
		}
	}
	return sources, nil
}

// listDir returns the .def files of dir, then its .csv files, then the
// contents of its subdirectories, each group in CompareNames order.
func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var defs, csvs, dirs []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		switch {
		case e.IsDir():
			dirs = append(dirs, name)
		case strings.EqualFold(filepath.Ext(name), DefExt):
			defs = append(defs, name)
		case strings.EqualFold(filepath.Ext(name), CSVExt):
			csvs = append(csvs, name)
		}
	}

	var out []string
	for _, group := range [][]string{defs, csvs} {
		SortNames(group)
		for _, name := range group {
			out = append(out, filepath.Join(dir, name))
		}
	}
	SortNames(dirs)
	for _, name := range dirs {
		sub, err := listDir(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// SortNames orders file names with CompareNames.
func SortNames(names []string) {
	c := collate.New(language.Und, collate.Numeric, collate.IgnoreCase)
	sort.SliceStable(names, func(i, j int) bool {
		return compareNames(c, names[i], names[j]) < 0
	})
}

// CompareNames orders file names by stem, then by the numeric version of a
// "name;N" suffix, then lexically. Digit runs inside stems compare as
// numbers.
func CompareNames(a, b string) int {
	return compareNames(collate.New(language.Und, collate.Numeric, collate.IgnoreCase), a, b)
}

func compareNames(c *collate.Collator, a, b string) int {
	sa, va := splitVersion(a)
	sb, vb := splitVersion(b)
	if r := c.CompareString(sa, sb); r != 0 {
		return r
	}
	if va != vb {
		if va < vb {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// splitVersion splits "units;3.def" into ("units", 3). Names without a
// version report 0.
func splitVersion(name string) (string, int) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndexByte(stem, ';')
	if i < 0 {
		return stem, 0
	}
	n, err := strconv.Atoi(stem[i+1:])
	if err != nil {
		return stem, 0
	}
	return stem[:i], n
}

// build turns a parsed source into a file field. Caller holds d.mu.
func (d *DT) build(src source) *Field {
	writeDigest(d.digest, src.name, src.text)

	for _, e := range src.errs {
		d.parseDiags = append(d.parseDiags, Diagnostic{
			Kind:     ParseError,
			Message:  e.Msg,
			File:     src.name,
			Position: e.Position,
			Path:     e.Path,
		})
	}
	if src.err != nil {
		d.parseDiags = append(d.parseDiags, Diagnostic{Kind: ParseError, Message: src.err.Error(), File: src.name})
	}
	if src.config == nil {
		return nil
	}
	if !d.condition(src.name, src.config.Condition) {
		logger.Debug("file excluded by #if", "file", src.name)
		return nil
	}

	file := &Field{typ: TypeFile, key: src.name, file: src.name, dt: d, hasBlock: true}
	for _, def := range src.config.Definitions {
		if c := d.buildField(src.name, def); c != nil {
			file.AddChild(c)
		}
	}
	return file
}

func (d *DT) buildField(file string, def *parser.Definition) *Field {
	if !d.condition(file, def.Condition) {
		return nil
	}
	f := &Field{
		typ:            d.strings.Intern(def.Type),
		key:            d.strings.Intern(def.Key),
		base:           def.Base,
		valueStr:       def.ValueText(),
		file:           file,
		pos:            def.Position,
		dt:             d,
		hasBlock:       def.HasBlock,
		braceOnNewLine: def.BraceOnNewLine,
		sameLine:       def.StartsAtSameLine,
	}
	if s, ok := def.Value.(*parser.StringValue); ok && s.Multiline {
		f.SetLiteral(s.Raw, value.FromString(s.Value))
	}
	for _, cd := range def.Children {
		if c := d.buildField(file, cd); c != nil {
			f.children = append(f.children, c)
			c.parent = f
		}
	}
	return f
}

// condition evaluates an #if directive against the globals.
func (d *DT) condition(file string, dir *parser.Directive) bool {
	if dir == nil {
		return true
	}
	e, err := expr.Compile(dir.Expr)
	if err != nil {
		d.parseDiags = append(d.parseDiags, Diagnostic{Kind: ParseError, Message: err.Error(), File: file, Position: dir.Position})
		return false
	}
	return e.Eval(globalsEnv{d.globals}).Bool(false)
}

type globalsEnv struct {
	vars VarsMap
}

func (g globalsEnv) Ref(path string) value.Value { return g.vars.GetVar(path) }
func (g globalsEnv) Var(name string) value.Value { return g.vars.GetVar(name) }

// AddFile registers fields built elsewhere, such as a decoded binary blob,
// as the top-level entries of a file called name.
func (d *DT) AddFile(name string, roots []*Field) *Field {
	d.mu.Lock()
	defer d.mu.Unlock()
	file := &Field{typ: TypeFile, key: name, file: name, dt: d, hasBlock: true}
	for _, r := range roots {
		file.AddChild(r)
	}
	file.setDT(d)
	return d.register(file)
}

func writeDigest(h hash.Hash, name, text string) {
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(text))
}

// SourceFingerprint returns the Fingerprint that LoadDir on the first
// directory followed by LoadMods on the rest would produce, without parsing
// anything.
func SourceFingerprint(dirs ...string) (string, error) {
	h := sha256.New()
	for _, dir := range dirs {
		paths, err := listDir(dir)
		if err != nil {
			return "", err
		}
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("read %s: %w", path, err)
			}
			text, err := decodeText(data)
			if err != nil {
				return "", fmt.Errorf("decode %s: %w", path, err)
			}
			writeDigest(h, filepath.ToSlash(path), text)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// register adds a built file to the loaded set. Caller holds d.mu.
func (d *DT) register(file *Field) *Field {
	if file != nil {
		d.files = append(d.files, file)
	}
	return file
}

// LoadMods loads each directory into a staging set and merges it over the
// loaded roots, in the given order, then resolves again.
func (d *DT) LoadMods(dirs ...string) error {
	for _, dir := range dirs {
		sources, err := readDir(dir)
		if err != nil {
			return fmt.Errorf("mod %s: %w", dir, err)
		}
		d.mu.Lock()
		for _, src := range sources {
			if file := d.build(src); file != nil {
				d.applyMod(file)
			}
		}
		d.mu.Unlock()
		logger.Info("mod applied", "dir", dir, "files", len(sources))
	}
	d.Resolve()
	return nil
}
