package dt

// isPureDelete reports whether f is a bare "delete" entry: it removes its
// target and contributes nothing else.
func (f *Field) isPureDelete() bool {
	return f.typ == TypeDelete && len(f.children) == 0 && f.valueStr == "" && !f.valueSet && f.base == ""
}

// Mod merges the overlay other into f. A pure delete removes f from its
// parent; a delete with content clears f, including its extensions, before
// merging. Keyed children
// merge recursively, new ones are appended, and anonymous children of
// other replace those of f. Applying the same overlay twice leaves the
// same tree. It reports whether f was removed.
func (f *Field) Mod(other *Field) bool {
	if other.typ == TypeDelete {
		if other.isPureDelete() {
			if f.parent != nil {
				f.parent.RemoveChild(f)
			}
			return true
		}
		f.children = nil
		f.extensions = nil
		f.base = ""
		f.valueStr = ""
		f.valueSet = false
		if f.dt != nil {
			f.rebuiltAt = len(f.dt.files)
		}
	}

	if f.typ != TypeFile {
		if other.typ != "" && other.typ != TypeDelete {
			f.typ = other.typ
		}
		if other.base != "" {
			f.base = other.base
		}
		if other.valueStr != "" {
			f.valueStr = other.valueStr
			f.valueSet = false
		} else if other.valueSet {
			f.value, f.valueSet = other.value, true
		}
		if other.hasBlock {
			f.hasBlock = true
		}
	}

	var anonymous []*Field
	for _, oc := range other.children {
		if oc.key == "" {
			anonymous = append(anonymous, oc)
			continue
		}
		if existing := f.ownChild(oc.key); existing != nil {
			existing.Mod(oc)
			continue
		}
		if oc.isPureDelete() {
			continue
		}
		f.AddChild(oc.stripDeletes())
	}
	if len(anonymous) > 0 {
		kept := make([]*Field, 0, len(f.children)+len(anonymous))
		for _, c := range f.children {
			if c.key != "" {
				kept = append(kept, c)
			}
		}
		for _, oc := range anonymous {
			c := oc.stripDeletes()
			c.parent = f
			kept = append(kept, c)
		}
		f.children = kept
	}
	f.invalidate()
	return false
}

// stripDeletes clones f for insertion where nothing exists to delete: pure
// deletes vanish and delete types are dropped.
func (f *Field) stripDeletes() *Field {
	c := f.clone()
	c.children = nil
	if c.typ == TypeDelete {
		c.typ = ""
	}
	for _, ch := range f.children {
		if ch.isPureDelete() {
			continue
		}
		cc := ch.stripDeletes()
		cc.parent = c
		c.children = append(c.children, cc)
	}
	return c
}

// applyMod merges a staged mod file over the loaded roots. Roots without a
// counterpart, and extend fields, are kept in a file of their own. Caller
// holds d.mu.
func (d *DT) applyMod(mod *Field) {
	rest := &Field{typ: TypeFile, key: mod.key, file: mod.file, dt: d, hasBlock: true}
	for _, m := range mod.children {
		var target *Field
		if m.key != "" && m.typ != TypeExtend {
			target = d.modTarget(m.key)
		}
		switch {
		case target != nil:
			target.Mod(m)
		case m.isPureDelete():
		default:
			rest.AddChild(m.stripDeletes())
		}
	}
	if len(rest.children) > 0 {
		rest.setDT(d)
		d.files = append(d.files, rest)
	}
}

// modTarget finds the loaded root key, searching files in load order.
func (d *DT) modTarget(key string) *Field {
	for _, file := range d.files {
		if c := file.ownChild(key); c != nil && c.typ != TypeExtend {
			return c
		}
	}
	return nil
}
