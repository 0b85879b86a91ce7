package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/dt-engine/internal/dt"
)

const unitSchema = `
types: unit: {
	hp!:    int & >0
	name?:  string
	speed?: number
}
`

func loadDT(t *testing.T, text string) *dt.DT {
	t.Helper()
	d := dt.New()
	d.LoadText("units.def", text)
	d.Resolve()
	require.Empty(t, d.Errors())
	return d
}

func TestValidateReportsViolations(t *testing.T) {
	s := DefaultSchema()
	require.NoError(t, s.Merge("units.cue", []byte(unitSchema)))

	d := loadDT(t, `
unit Soldier { hp = 10; name = "Soldier" }
unit Ghost { hp = -1 }
unit Nameless { name = 3 }
Archer : Soldier { speed = 1.5 }
`)
	n := s.Validate(d)
	assert.GreaterOrEqual(t, n, 3)

	paths := map[string]bool{}
	for _, diag := range d.Errors() {
		assert.Equal(t, dt.SchemaError, diag.Kind)
		assert.Equal(t, "units.def", diag.File)
		paths[diag.Path] = true
	}
	assert.True(t, paths["Ghost.hp"])
	assert.True(t, paths["Nameless.name"])
	assert.False(t, paths["Soldier"])
	assert.False(t, paths["Archer.speed"])
}

func TestUnconstrainedTypesPass(t *testing.T) {
	s := DefaultSchema()
	d := loadDT(t, "building Tower { height = \"tall\" }\n")
	assert.Equal(t, 0, s.Validate(d))
	assert.Empty(t, d.Errors())

	_, ok := s.Constraint("building")
	assert.False(t, ok)
	_, ok = s.Constraint("text")
	assert.True(t, ok)
}

func TestLoadSchemaFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "units.cue")
	require.NoError(t, os.WriteFile(path, []byte(unitSchema), 0644))

	s, err := LoadSchema(path)
	require.NoError(t, err)
	_, ok := s.Constraint("unit")
	assert.True(t, ok)

	assert.Empty(t, s.Check("unit", map[string]any{"hp": int64(3)}))
	assert.NotEmpty(t, s.Check("unit", map[string]any{"name": "x"}))
}

func TestLoadSchemaErrors(t *testing.T) {
	_, err := LoadSchema(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)

	s := NewSchema()
	assert.Error(t, s.Merge("bad.cue", []byte("types: {")))
}
