package builder

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/dt-engine/internal/dt"
	"github.com/marte-community/dt-engine/internal/value"
)

const content = `
unit Soldier {
	hp = 10
	name = "Soldier"
	bonus = hp * 2
	tags = [melee, slow]
}

Archer : Soldier {
	hp = 8
}

extend Archer {
	range = 5
}

Damage {
	switch_value = element
	case fire { value = 7 }
	case default { value = 1 }
}
`

func loadDT(t *testing.T, name, text string) *dt.DT {
	t.Helper()
	d := dt.New()
	d.LoadText(name, text)
	d.Resolve()
	require.Empty(t, d.Errors())
	return d
}

func TestBuildFlattensAndReparses(t *testing.T) {
	d := loadDT(t, "units.def", content)

	var buf bytes.Buffer
	require.NoError(t, Build(d, &buf))
	out := buf.String()

	assert.Contains(t, out, "unit Archer {")
	assert.NotContains(t, out, "Archer : Soldier")
	assert.NotContains(t, out, "extend")
	assert.Contains(t, out, "bonus = hp * 2")
	assert.Contains(t, out, `name = "Soldier"`)
	assert.Contains(t, out, "case fire")

	again := loadDT(t, "built.def", out)
	archer := again.Find("Archer")
	require.NotNil(t, archer)
	assert.Nil(t, archer.BasedOn())
	assert.Equal(t, "unit", archer.OwnType())
	assert.Equal(t, int64(8), archer.GetInt("hp", nil, 0))
	assert.Equal(t, int64(16), archer.GetInt("bonus", nil, 0))
	assert.Equal(t, int64(5), archer.GetInt("range", nil, 0))
	assert.Equal(t, "Soldier", archer.GetString("name", nil, ""))

	dmg := again.Find("Damage")
	require.NotNil(t, dmg)
	assert.Equal(t, int64(7), dmg.Value(dt.VarsMap{"element": value.FromString("fire")}).Int(0))
}

func TestBuildEvaluated(t *testing.T) {
	d := loadDT(t, "units.def", content)

	b := NewBuilder(Options{Evaluate: true, Vars: dt.VarsMap{"element": value.FromString("fire")}})
	var buf bytes.Buffer
	require.NoError(t, b.Build(d, &buf))
	out := buf.String()

	assert.Contains(t, out, "bonus = 16")
	assert.Contains(t, out, "Damage = 7")
	assert.NotContains(t, out, "case")
}

func TestConfigurationShape(t *testing.T) {
	d := loadDT(t, "units.def", "unit Soldier { hp = 10; stats { speed = 1.5 } }\n")
	cfg := NewBuilder(Options{}).Configuration(d.Roots())
	require.Len(t, cfg.Definitions, 1)

	soldier := cfg.Definitions[0]
	assert.Equal(t, "unit", soldier.Type)
	assert.Equal(t, "Soldier", soldier.Key)
	assert.True(t, soldier.HasBlock)
	require.Len(t, soldier.Children, 2)
	assert.Equal(t, "10", soldier.Children[0].ValueText())
	assert.Equal(t, "stats", soldier.Children[1].Key)
	assert.Equal(t, "1.5", soldier.Children[1].Children[0].ValueText())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestBuildReportsWriteErrors(t *testing.T) {
	d := loadDT(t, "units.def", "A = 1\n")
	assert.EqualError(t, Build(d, failingWriter{}), "disk full")
}
