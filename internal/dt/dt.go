// Package dt implements the definition tree: loading definition files,
// linking bases and extensions, and answering value queries.
package dt

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marte-community/dt-engine/internal/value"
)

// Def records a typed top-level definition.
type Def struct {
	Path  string
	Type  string
	Field *Field
}

// DT owns every loaded file and the indexes built over them. Loading and
// Resolve must not run concurrently with queries.
type DT struct {
	mu sync.RWMutex

	files    []*Field
	roots    map[string]*Field
	rootList []*Field
	defs     map[string]*Def

	strings      *UniqueStrings
	parseDiags   []Diagnostic
	resolveDiags []Diagnostic
	globals      VarsMap
	generation   uuid.UUID
	digest       hash.Hash

	rngMu    sync.Mutex
	rng      *rand.Rand
	rngStack []*rand.Rand
}

func New() *DT {
	d := &DT{}
	d.reset()
	d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	return d
}

// Reset drops every loaded file, index and diagnostic. Globals and the
// random source are kept.
func (d *DT) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

func (d *DT) reset() {
	d.files = nil
	d.roots = make(map[string]*Field)
	d.rootList = nil
	d.defs = make(map[string]*Def)
	d.strings = NewUniqueStrings()
	d.parseDiags = nil
	d.resolveDiags = nil
	if d.globals == nil {
		d.globals = make(VarsMap)
	}
	d.generation = uuid.New()
	d.digest = sha256.New()
}

// Generation identifies the current load; it changes on every Reset and
// Resolve.
func (d *DT) Generation() uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.generation
}

// Fingerprint is a digest of every source loaded since the last Reset, in
// load order.
func (d *DT) Fingerprint() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return hex.EncodeToString(d.digest.Sum(nil))
}

func (d *DT) Strings() *UniqueStrings {
	return d.strings
}

// Globals are the variables #if directives are evaluated against.
func (d *DT) Globals() VarsMap {
	return d.globals
}

func (d *DT) SetGlobal(key string, v value.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.globals[key] = v
}

// Find resolves a dotted path starting at the global roots.
func (d *DT) Find(path string) *Field {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.find(path)
}

func (d *DT) find(path string) *Field {
	head, rest, _ := strings.Cut(path, ".")
	root := d.roots[head]
	if root == nil || rest == "" {
		return root
	}
	return root.lookup(newEvalState(), rest, nil, FindOptions{})
}

// FindDef returns the top-level definition key when its type is typ. An
// empty typ matches any type.
func (d *DT) FindDef(typ, key string) *Field {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.defs[key]
	if !ok || (typ != "" && def.Type != typ) {
		return nil
	}
	return def.Field
}

// DefsOfType lists the top-level definitions of type typ, ordered by key.
func (d *DT) DefsOfType(typ string) []*Field {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Field
	for _, def := range d.defs {
		if def.Type == typ {
			out = append(out, def.Field)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// Defs returns every typed definition, ordered by path.
func (d *DT) Defs() []*Def {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Def, 0, len(d.defs))
	for _, def := range d.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Roots returns the top-level fields in load order.
func (d *DT) Roots() []*Field {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Field(nil), d.rootList...)
}

// Files returns the loaded file fields in load order.
func (d *DT) Files() []*Field {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Field(nil), d.files...)
}

// SetSeed switches to a deterministic random source. The previous source is
// kept until RestoreSeed.
func (d *DT) SetSeed(seed int64) {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	d.rngStack = append(d.rngStack, d.rng)
	d.rng = rand.New(rand.NewSource(seed))
}

// RestoreSeed returns to the random source active before the last SetSeed.
func (d *DT) RestoreSeed() {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	if n := len(d.rngStack); n > 0 {
		d.rng = d.rngStack[n-1]
		d.rngStack = d.rngStack[:n-1]
	}
}

// Intn returns a random int in [0, n) from the current source.
func (d *DT) Intn(n int) int {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return d.rng.Intn(n)
}

func (d *DT) Float64() float64 {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return d.rng.Float64()
}
