// Package cache keeps the documents of a language server session and the
// definition sets resolved from them.
package cache

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/marte-community/dt-engine/internal/dt"
	"github.com/marte-community/dt-engine/internal/logger"
	"github.com/marte-community/dt-engine/internal/schema"
)

type Session struct {
	id    string
	views []*View
	mu    sync.Mutex
}

func NewSession(id string) *Session {
	return &Session{
		id: id,
	}
}

func (s *Session) Views() []*View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views
}

func (s *Session) View(id string) *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.views {
		if v.id == id {
			return v
		}
	}
	return nil
}

// ViewOf returns the view whose root contains path, or the first view.
func (s *Session) ViewOf(path string) *View {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *View
	longest := -1
	for _, v := range s.views {
		if within(path, v.root) && len(v.root) > longest {
			longest = len(v.root)
			best = v
		}
	}
	if best != nil {
		return best
	}
	if len(s.views) > 0 {
		return s.views[0]
	}
	return nil
}

func within(path, root string) bool {
	if root == "" || root == "/" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Session) CreateView(id, root string) *View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &View{
		id:      id,
		root:    root,
		session: s,
		globals: make(dt.VarsMap),
	}
	v.snapshot.Store(newSnapshot(v, make(map[string]string), make(map[string]bool)))
	s.views = append(s.views, v)
	return v
}

type View struct {
	id      string
	root    string
	session *Session
	schema  *schema.Schema
	globals dt.VarsMap

	mu       sync.Mutex // serializes snapshot updates
	snapshot atomic.Value
}

func (v *View) Snapshot() *Snapshot {
	return v.snapshot.Load().(*Snapshot)
}

func (v *View) Root() string {
	return v.root
}

// SetSchema validates every later snapshot against s.
func (v *View) SetSchema(s *schema.Schema) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.schema = s
	v.rebuild(v.Snapshot().documents, v.Snapshot().open)
}

// SetGlobals replaces the globals #if directives see.
func (v *View) SetGlobals(globals dt.VarsMap) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.globals = globals
	v.rebuild(v.Snapshot().documents, v.Snapshot().open)
}

// Scan reads every definition file below the view root into the snapshot.
// Documents open in the editor keep their unsaved text.
func (v *View) Scan(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	cur := v.Snapshot()
	docs := cur.cloneDocuments()
	err := filepath.WalkDir(v.root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := e.Name()
		if e.IsDir() {
			if path != v.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isSource(name) || cur.open[path] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}
		docs[path] = string(data)
		return nil
	})
	if err != nil {
		return err
	}
	v.rebuild(docs, cur.open)
	return nil
}

func isSource(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == dt.DefExt || ext == dt.CSVExt
}

// Open records the editor text of path.
func (v *View) Open(path, text string) *Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur := v.Snapshot()
	docs := cur.cloneDocuments()
	docs[path] = text
	open := cur.cloneOpen()
	open[path] = true
	return v.rebuild(docs, open)
}

// Close forgets the editor text of path, falling back to the file on disk.
func (v *View) Close(path string) *Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur := v.Snapshot()
	docs := cur.cloneDocuments()
	open := cur.cloneOpen()
	delete(open, path)
	if data, err := os.ReadFile(path); err == nil && within(path, v.root) {
		docs[path] = string(data)
	} else {
		delete(docs, path)
	}
	return v.rebuild(docs, open)
}

// rebuild resolves docs into a new snapshot. Caller holds v.mu.
func (v *View) rebuild(docs map[string]string, open map[string]bool) *Snapshot {
	s := newSnapshot(v, docs, open)
	v.snapshot.Store(s)
	return s
}

// Snapshot is an immutable view of the documents and their resolved
// definition set.
type Snapshot struct {
	view      *View
	dt        *dt.DT
	documents map[string]string
	open      map[string]bool
}

func newSnapshot(v *View, docs map[string]string, open map[string]bool) *Snapshot {
	d := dt.New()
	for k, val := range v.globals {
		d.SetGlobal(k, val)
	}
	paths := make([]string, 0, len(docs))
	for p := range docs {
		paths = append(paths, p)
	}
	dt.SortNames(paths)
	for _, p := range paths {
		d.LoadText(p, docs[p])
	}
	d.Resolve()
	if v.schema != nil {
		v.schema.Validate(d)
	}
	return &Snapshot{view: v, dt: d, documents: docs, open: open}
}

func (s *Snapshot) DT() *dt.DT {
	return s.dt
}

func (s *Snapshot) View() *View {
	return s.view
}

func (s *Snapshot) Documents() map[string]string {
	return s.documents
}

// Document returns the text of path.
func (s *Snapshot) Document(path string) (string, bool) {
	text, ok := s.documents[path]
	return text, ok
}

// Diagnostics groups the diagnostics of the snapshot by file. Every known
// document has an entry, so stale diagnostics can be cleared.
func (s *Snapshot) Diagnostics() map[string][]dt.Diagnostic {
	out := make(map[string][]dt.Diagnostic, len(s.documents))
	for p := range s.documents {
		out[p] = nil
	}
	for _, diag := range s.dt.Errors() {
		if _, ok := out[diag.File]; ok {
			out[diag.File] = append(out[diag.File], diag)
		}
	}
	return out
}

func (s *Snapshot) cloneDocuments() map[string]string {
	docs := make(map[string]string, len(s.documents)+1)
	for k, val := range s.documents {
		docs[k] = val
	}
	return docs
}

func (s *Snapshot) cloneOpen() map[string]bool {
	open := make(map[string]bool, len(s.open)+1)
	for k, val := range s.open {
		open[k] = val
	}
	return open
}
