package formatter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/dt-engine/internal/parser"
)

func format(t *testing.T, input string) string {
	t.Helper()
	config, err := parser.NewParser(input).Parse()
	require.NoError(t, err)
	var b strings.Builder
	Format(config, &b)
	return b.String()
}

func TestFormatRoundTrip(t *testing.T) {
	input := `// header
def Castle : Building {
  cost = 120 // price
  tags = [a, b]
  bonus { attack = 1; defense = 2 }
}
`
	assert.Equal(t, input, format(t, input))
}

func TestFormatBraceOnNewLine(t *testing.T) {
	input := "unit Archer\n{\n  range = 5\n}\n"
	assert.Equal(t, input, format(t, input))
}

func TestFormatNormalizesIndentAndComments(t *testing.T) {
	input := "A {\n        x = 1 //note\n}\n"
	assert.Equal(t, "A {\n  x = 1 // note\n}\n", format(t, input))
}

func TestFormatMultilineList(t *testing.T) {
	input := "names = [\n  alpha, // first\n  beta\n]\n"
	assert.Equal(t, input, format(t, input))
}

func TestFormatIfDirective(t *testing.T) {
	input := "#if hard\nA = 1\n"
	assert.Equal(t, input, format(t, input))
}
