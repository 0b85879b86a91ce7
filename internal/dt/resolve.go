package dt

import (
	"github.com/google/uuid"

	"github.com/marte-community/dt-engine/internal/logger"
	"github.com/marte-community/dt-engine/internal/value"
)

const (
	baseNew uint8 = iota
	baseResolving
	baseDone
)

// Resolve links the loaded files: extensions first, then bases (explicit and
// implicit) with cycle checks, then literal values. It may be run again
// after further loads or mods.
func (d *DT) Resolve() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resolveDiags = nil
	d.generation = uuid.New()
	d.unlink()

	d.dedupe()
	d.indexRoots()
	d.linkExtensions()
	d.linkBases()
	d.indexDefs()
	d.resolveValues()

	logger.Debug("definitions resolved", "files", len(d.files), "roots", len(d.rootList), "errors", len(d.resolveDiags))
}

func (d *DT) walk(fn func(*Field)) {
	for _, file := range d.files {
		file.walk(fn)
	}
}

// unlink clears every link computed by a previous Resolve.
func (d *DT) unlink() {
	d.walk(func(f *Field) {
		f.basedOn = nil
		f.extends = nil
		f.extensions = nil
		f.baseState = baseNew
		f.invalidate()
	})
}

// dedupe drops later siblings that repeat a key; the first one wins. The
// dropped fields are gone for good, so their diagnostics outlive Resolve.
func (d *DT) dedupe() {
	d.walk(func(f *Field) {
		if f.typ == TypeFile {
			return
		}
		seen := make(map[string]bool, len(f.children))
		kept := f.children[:0]
		for _, c := range f.children {
			if c.key != "" && c.typ != TypeExtend {
				if seen[c.key] {
					d.parseDiags = append(d.parseDiags, newDiagnostic(DuplicateKeyError, c, "duplicate key %q in %s", c.key, f.Path()))
					continue
				}
				seen[c.key] = true
			}
			kept = append(kept, c)
		}
		for i := len(kept); i < len(f.children); i++ {
			f.children[i] = nil
		}
		f.children = kept
	})
}

// indexRoots registers top-level fields. Extensions are not roots.
func (d *DT) indexRoots() {
	d.roots = make(map[string]*Field)
	d.rootList = nil
	for _, file := range d.files {
		for _, r := range file.children {
			if r.key == "" || r.typ == TypeExtend {
				continue
			}
			if prev, ok := d.roots[r.key]; ok {
				d.report(DuplicateKeyError, r, "duplicate definition %q, first defined in %s:%d", r.key, prev.file, prev.pos.Line)
				continue
			}
			d.roots[r.key] = r
			d.rootList = append(d.rootList, r)
		}
	}
}

// linkExtensions attaches every extend field to its target, in load order.
func (d *DT) linkExtensions() {
	for i, file := range d.files {
		file.walk(func(f *Field) {
			if f.typ == TypeExtend {
				d.linkExtension(i, f)
			}
		})
	}
}

// linkExtension links f, found in the i-th loaded file. Extensions loaded
// before a delete rebuilt their target are dropped, and children that repeat
// an own key of the target are reported.
func (d *DT) linkExtension(i int, f *Field) {
	if f.base != "" || f.valueStr != "" {
		d.report(ReferenceError, f, "extend %q cannot declare a base or a value", f.key)
	}
	var target *Field
	switch scope := f.parent; {
	case scope == nil || scope.typ == TypeFile:
		target = d.find(f.key)
	case scope.typ == TypeExtend:
		if scope.extends == nil {
			// The enclosing extend was reported or dropped.
			return
		}
		target = scope.extends.lookup(newEvalState(), f.key, nil, FindOptions{NoSwitches: true})
	default:
		target = scope.lookup(newEvalState(), f.key, nil, FindOptions{NoSwitches: true})
	}
	if target != nil {
		target = target.Origin()
	}
	if target == nil || target.typ == TypeExtend {
		d.report(ReferenceError, f, "extend target %q not found", f.key)
		return
	}
	if i < target.rebuiltAt {
		logger.Debug("extension dropped by delete", "file", f.file, "target", target.Path())
		return
	}
	f.extends = target
	target.extensions = append(target.extensions, f)
	target.invalidate()

	for _, c := range f.children {
		if c.key == "" || c.typ == TypeExtend {
			continue
		}
		if target.ownChild(c.key) != nil {
			d.report(DuplicateKeyError, c, "duplicate key %q in %s, extension ignored", c.key, target.Path())
		}
	}
}

// linkBases resolves explicit bases, then implicit ones, then severs
// cycles.
func (d *DT) linkBases() {
	var pending []*Field
	d.walk(func(f *Field) {
		if f.base != "" && f.typ != TypeExtend {
			pending = append(pending, f)
		}
	})
	// Explicit bases may name fields inherited through other bases, so
	// resolve until no further progress is made.
	for len(pending) > 0 {
		var next []*Field
		for _, f := range pending {
			if target := d.lookupBase(f); target != nil {
				f.basedOn = target
				f.baseState = baseDone
				f.invalidateUp()
			} else {
				next = append(next, f)
			}
		}
		if len(next) == len(pending) {
			break
		}
		pending = next
	}
	for _, f := range pending {
		f.baseState = baseDone
		d.report(ReferenceError, f, "base %q not found", f.base)
	}

	d.walk(func(f *Field) { d.ensureBase(f) })
	d.walk(func(f *Field) { d.checkCycle(f) })
}

// lookupBase resolves an explicit base path relative to the enclosing
// scopes, then globally.
func (d *DT) lookupBase(f *Field) *Field {
	st := newEvalState()
	for scope := f.parent; scope != nil; scope = scope.parent {
		if c := scope.lookup(st, f.base, nil, FindOptions{NoSwitches: true}); c != nil && c.Origin() != f {
			return c.Origin()
		}
	}
	if c := d.find(f.base); c != nil && c.Origin() != f {
		return c.Origin()
	}
	return nil
}

// ensureBase computes the implicit base of f once its parent's base is
// known: the same-keyed child of the parent's base. Case fields without one
// look for a same-keyed case among the siblings of their ancestors.
func (d *DT) ensureBase(f *Field) {
	if f.baseState != baseNew {
		return
	}
	f.baseState = baseResolving
	defer func() { f.baseState = baseDone }()

	p := f.parent
	if f.key == "" || p == nil || p.typ == TypeFile || f.typ == TypeExtend {
		return
	}
	d.ensureBase(p)
	scope := p
	if p.extends != nil {
		d.ensureBase(p.extends)
		scope = p.extends
	}
	if scope.basedOn != nil {
		c := scope.basedOn.lookup(newEvalState(), f.key, nil, FindOptions{NoSwitches: true})
		if c != nil && c.Origin() != f && !f.isAncestor(c) {
			f.basedOn = c.Origin()
			return
		}
	}
	if f.typ == TypeCase {
		for anc := p.parent; anc != nil && anc.typ != TypeFile; anc = anc.parent {
			c := anc.ownChild(f.key)
			if c != nil && c != f && c.typ == TypeCase && !f.isAncestor(c) {
				f.basedOn = c
				return
			}
		}
	}
}

// invalidateUp clears cached child views of f and its ancestors.
func (f *Field) invalidateUp() {
	for cur := f; cur != nil; cur = cur.parent {
		cur.invalidate()
	}
}

// checkCycle severs the base of f when its based_on chain returns to f or
// passes through one of its ancestors.
func (d *DT) checkCycle(f *Field) {
	if f.basedOn == nil {
		return
	}
	n := 0
	for cur := f.basedOn; cur != nil; cur, n = cur.basedOn, n+1 {
		if n > maxChain {
			// A cycle further up the chain; severed when its own fields are
			// checked.
			return
		}
		if cur == f || f.isAncestor(cur) {
			d.report(CycleError, f, "inheritance cycle through %q", f.basedOn.Path())
			f.basedOn = nil
			f.invalidateUp()
			return
		}
	}
}

// indexDefs registers the typed top-level definitions.
func (d *DT) indexDefs() {
	d.defs = make(map[string]*Def)
	for _, r := range d.rootList {
		if typ := r.Type(); typ != "" {
			d.defs[r.key] = &Def{Path: r.Path(), Type: typ, Field: r}
		}
	}
}

// resolveValues parses every pending literal and checks text fields.
func (d *DT) resolveValues() {
	d.walk(func(f *Field) {
		if f.valueStr != "" && !f.valueSet {
			v, err := ParseLiteral(f.valueStr)
			if err != nil {
				d.report(ParseError, f, "invalid value %q: %v", f.valueStr, err)
				v = value.Unknown
			}
			f.value, f.valueSet = v, true
		}
		if f.Type() == TypeText {
			for _, c := range f.Children() {
				if len(c.Children()) > 0 {
					d.report(ShapeError, c, "text entry %q cannot have children", c.key)
				}
			}
		}
	})
}
