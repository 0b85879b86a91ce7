package tabular

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/dt-engine/internal/parser"
)

func child(def *parser.Definition, key string) *parser.Definition {
	for _, c := range def.Children {
		if c.Key == key {
			return c
		}
	}
	return nil
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, ',', DetectDelimiter("a,b,c\n1,2,3"))
	assert.Equal(t, ';', DetectDelimiter("a;b;c\n1,2;3"))
	assert.Equal(t, '\t', DetectDelimiter("a\tb\n"))
	assert.Equal(t, ',', DetectDelimiter("single\n"))
}

func TestParseRowsAndTemplate(t *testing.T) {
	text := "unit unit_*;cost;name;<value>\n" +
		"archer;10;Archer;1\n" +
		"knight;25;\"Sir, Knight\";2\n"
	config, err := Parse("units.csv", text)
	require.NoError(t, err)
	require.Len(t, config.Definitions, 2)

	archer := config.Definitions[0]
	assert.Equal(t, "unit", archer.Type)
	assert.Equal(t, "unit_archer", archer.Key)
	assert.Equal(t, "1", archer.ValueText())
	assert.Equal(t, "10", child(archer, "cost").ValueText())
	assert.Equal(t, `"Archer"`, child(archer, "name").ValueText())

	knight := config.Definitions[1]
	assert.Equal(t, `"Sir, Knight"`, child(knight, "name").ValueText())
	assert.Equal(t, 3, knight.Position.Line)
}

func TestParseDefaultRow(t *testing.T) {
	text := "*,hp,speed\n" +
		"default,100,5\n" +
		"a,,7\n" +
		"b,50,\n"
	config, err := Parse("d.csv", text)
	require.NoError(t, err)
	require.Len(t, config.Definitions, 2)

	a, b := config.Definitions[0], config.Definitions[1]
	assert.Equal(t, "100", child(a, "hp").ValueText())
	assert.Equal(t, "7", child(a, "speed").ValueText())
	assert.Equal(t, "50", child(b, "hp").ValueText())
	assert.Equal(t, "5", child(b, "speed").ValueText())
}

func TestParseNestedColumnsAndExpressions(t *testing.T) {
	text := "*,stats.attack,stats.defense,bonus\n" +
		"x,3,4,=stats.attack * 2\n" +
		"\n" +
		"// skipped,1,1,1\n"
	config, err := Parse("n.csv", text)
	require.NoError(t, err)
	require.Len(t, config.Definitions, 1)

	x := config.Definitions[0]
	stats := child(x, "stats")
	require.NotNil(t, stats)
	assert.Equal(t, "3", child(stats, "attack").ValueText())
	assert.Equal(t, "4", child(stats, "defense").ValueText())
	assert.Equal(t, "stats.attack * 2", child(x, "bonus").ValueText())
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse("e.csv", "")
	assert.ErrorIs(t, err, ErrNoHeader)
}
