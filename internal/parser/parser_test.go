package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	input := `
// comment
def Castle : Building
{
    cost = 120 // trailing
    name = "Stone \"Keep\""
    upkeep = cost / 10
    tags = [wall, tower, // defensive
            "moat"]
    desc = $[first line
second [nested] line]
    bonus { attack = 1; defense = 2 }
}
Building { cost = 100 }
`
	p := NewFileParser("castle.def", input)
	config, err := p.Parse()
	require.NoError(t, err)
	require.Len(t, config.Definitions, 2)

	castle := config.Definitions[0]
	assert.Equal(t, "def", castle.Type)
	assert.Equal(t, "Castle", castle.Key)
	assert.Equal(t, "Building", castle.Base)
	assert.True(t, castle.HasBlock)
	assert.True(t, castle.BraceOnNewLine)
	require.Len(t, castle.Children, 6)

	assert.Equal(t, "120", castle.Children[0].ValueText())
	name, ok := castle.Children[1].Value.(*StringValue)
	require.True(t, ok)
	assert.Equal(t, `Stone "Keep"`, name.Value)
	assert.Equal(t, "cost / 10", castle.Children[2].ValueText())

	tags, ok := castle.Children[3].Value.(*ListValue)
	require.True(t, ok)
	require.Len(t, tags.Elements, 3)
	assert.Equal(t, "tower", tags.Elements[1].Value.Source())
	assert.Equal(t, "// defensive", tags.Elements[1].Comment)

	desc, ok := castle.Children[4].Value.(*StringValue)
	require.True(t, ok)
	assert.True(t, desc.Multiline)
	assert.Equal(t, "first line\nsecond [nested] line", desc.Value)

	bonus := castle.Children[5]
	require.Len(t, bonus.Children, 2)
	assert.False(t, bonus.Children[0].StartsAtSameLine)
	assert.True(t, bonus.Children[1].StartsAtSameLine)
	assert.False(t, bonus.BraceOnNewLine)

	require.NotEmpty(t, config.Comments)
	assert.Equal(t, "// comment", config.Comments[0].Text)
}

func TestParseIfDirective(t *testing.T) {
	input := "#if difficulty > 2\nA { x = 1 }\n"
	config, err := NewParser(input).Parse()
	require.NoError(t, err)
	require.NotNil(t, config.Condition)
	assert.Equal(t, "difficulty > 2", config.Condition.Expr)
	require.Len(t, config.Definitions, 1)
}

func TestParseIfDirectiveMustBeFirst(t *testing.T) {
	p := NewParser("A = 1\n#if x\n")
	_, err := p.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "#if must be the first entry")
}

func TestParseErrorsAreRecoverable(t *testing.T) {
	input := `
Units {
    bad = "unterminated
    good = 5
    list = [1, 2
}
After { ok = 1 }
`
	p := NewFileParser("units.def", input)
	config, err := p.Parse()
	require.Error(t, err)

	var msgs []string
	for _, e := range p.Errors() {
		msgs = append(msgs, e.Error())
	}
	assert.Contains(t, msgs[0], "units.def:3")
	assert.Contains(t, msgs[0], "Units.bad")

	require.NotEmpty(t, config.Definitions)
	units := config.Definitions[0]
	assert.Equal(t, "Units", units.Key)
	keys := []string{}
	for _, c := range units.Children {
		keys = append(keys, c.Key)
	}
	assert.Contains(t, keys, "good")
}

func TestParseTrailingTokens(t *testing.T) {
	p := NewParser("A B C = 1\nD = 2\n")
	config, err := p.Parse()
	require.Error(t, err)
	require.Len(t, config.Definitions, 2)
	assert.Equal(t, "A", config.Definitions[0].Type)
	assert.Equal(t, "B", config.Definitions[0].Key)
	assert.Equal(t, "D", config.Definitions[1].Key)
}

func TestParseAnonymousEntries(t *testing.T) {
	config, err := NewParser("names {\n \"alpha\"\n \"beta\"\n}\n").Parse()
	require.NoError(t, err)
	names := config.Definitions[0]
	require.Len(t, names.Children, 2)
	assert.Equal(t, "", names.Children[0].Key)
	assert.Equal(t, `"beta"`, names.Children[1].ValueText())
}

func TestParseExpressionStartingWithString(t *testing.T) {
	config, err := NewParser(`title = "Sir " + name` + "\n").Parse()
	require.NoError(t, err)
	raw, ok := config.Definitions[0].Value.(*RawValue)
	require.True(t, ok)
	assert.Equal(t, `"Sir " + name`, raw.Text)
}
