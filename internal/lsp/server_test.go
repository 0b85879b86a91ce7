package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/marte-community/dt-engine/internal/schema"
)

const unitsDef = `unit Soldier {
  hp = 10
  friend = Archer
}
Archer : Soldier {
  hp = 8
}
`

func newTestServer(t *testing.T) (*Server, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return NewServer(&out), &out
}

// messages decodes everything the server has written so far.
func messages(t *testing.T, out *bytes.Buffer) []JsonRpcMessage {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(out.Bytes()))
	var msgs []JsonRpcMessage
	for {
		msg, err := readMessage(r)
		if err != nil {
			break
		}
		msgs = append(msgs, *msg)
	}
	return msgs
}

func diagnosticsFor(t *testing.T, out *bytes.Buffer, uri protocol.DocumentURI) []protocol.Diagnostic {
	t.Helper()
	var last []protocol.Diagnostic
	found := false
	for _, m := range messages(t, out) {
		if m.Method != "textDocument/publishDiagnostics" {
			continue
		}
		var p protocol.PublishDiagnosticsParams
		require.NoError(t, json.Unmarshal(m.Params, &p))
		if p.URI == uri {
			last, found = p.Diagnostics, true
		}
	}
	require.True(t, found, "no diagnostics published for %s", uri)
	return last
}

func textDoc(uri protocol.DocumentURI) protocol.TextDocumentIdentifier {
	return protocol.TextDocumentIdentifier{URI: uri}
}

func at(uri protocol.DocumentURI, line, char uint32) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: textDoc(uri),
		Position:     protocol.Position{Line: line, Character: char},
	}
}

func hover(uri protocol.DocumentURI, line, char uint32) protocol.HoverParams {
	return protocol.HoverParams{TextDocumentPositionParams: at(uri, line, char)}
}

func openDoc(s *Server, uri protocol.DocumentURI, text string) {
	s.handleDidOpen(protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "dt", Text: text},
	})
}

func changeDoc(s *Server, uri protocol.DocumentURI, text string) {
	s.handleDidChange(protocol.DidChangeTextDocumentParams{
		TextDocument:   protocol.VersionedTextDocumentIdentifier{TextDocumentIdentifier: textDoc(uri)},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: text}},
	})
}

func closeDoc(s *Server, uri protocol.DocumentURI) {
	s.handleDidClose(protocol.DidCloseTextDocumentParams{TextDocument: textDoc(uri)})
}

func TestHoverShowsResolvedField(t *testing.T) {
	s, _ := newTestServer(t)
	uri := protocol.DocumentURI("file:///work/units.def")
	openDoc(s, uri, unitsDef)

	// "hp" inside Archer.
	h := s.handleHover(hover(uri, 5, 3))
	require.NotNil(t, h)
	assert.Equal(t, protocol.Markdown, h.Contents.Kind)
	assert.Contains(t, h.Contents.Value, "`Archer.hp`")
	assert.Contains(t, h.Contents.Value, "Value: `8`")

	h = s.handleHover(hover(uri, 4, 1))
	require.NotNil(t, h)
	assert.Contains(t, h.Contents.Value, "**unit** `Archer`")
	assert.Contains(t, h.Contents.Value, "Based on `Soldier`")

	assert.Nil(t, s.handleHover(hover(uri, 40, 0)))
}

func TestDiagnosticsArePublishedAndCleared(t *testing.T) {
	s, out := newTestServer(t)
	uri := protocol.DocumentURI("file:///work/bad.def")

	openDoc(s, uri, "A : Missing { }\n")
	diags := diagnosticsFor(t, out, uri)
	require.Len(t, diags, 1)
	assert.Equal(t, protocol.DiagnosticSeverityError, diags[0].Severity)
	assert.Equal(t, "dt/reference", diags[0].Source)
	assert.Equal(t, uint32(0), diags[0].Range.Start.Line)

	changeDoc(s, uri, "Missing { }\nA : Missing { }\n")
	assert.Empty(t, diagnosticsFor(t, out, uri))

	changeDoc(s, uri, "A { x = 1\n")
	diags = diagnosticsFor(t, out, uri)
	require.NotEmpty(t, diags)
	assert.Equal(t, "dt/parse", diags[0].Source)

	closeDoc(s, uri)
	assert.Empty(t, diagnosticsFor(t, out, uri))
}

func TestSchemaDiagnostics(t *testing.T) {
	s, out := newTestServer(t)
	sch := schema.DefaultSchema()
	require.NoError(t, sch.Merge("units.cue", []byte("types: unit: { hp!: int & >0 }")))
	s.SetSchema(sch)

	uri := protocol.DocumentURI("file:///work/units.def")
	openDoc(s, uri, "unit Ghost { hp = -1 }\n")
	diags := diagnosticsFor(t, out, uri)
	require.NotEmpty(t, diags)
	assert.Equal(t, "dt/schema", diags[0].Source)
	assert.True(t, strings.HasPrefix(diags[0].Message, "Ghost.hp: "))
}

func TestInitProjectScan(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "def.def"), []byte("Target { x = 1 }\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ref.def"), []byte("Source : Target { }\nLink = Target\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".git", "x.def"), []byte("Broken : Nope { }\n"), 0644))

	s, out := newTestServer(t)
	s.handleInitialize(context.Background(), protocol.InitializeParams{RootURI: pathToURI(tmpDir)})
	assert.Empty(t, diagnosticsFor(t, out, pathToURI(filepath.Join(tmpDir, "ref.def"))))

	refURI := pathToURI(filepath.Join(tmpDir, "ref.def"))
	res := s.handleDefinition(protocol.DefinitionParams{TextDocumentPositionParams: at(refURI, 0, 11)})
	locs, ok := res.([]protocol.Location)
	require.True(t, ok, "got %T", res)
	require.Len(t, locs, 1)
	assert.Equal(t, pathToURI(filepath.Join(tmpDir, "def.def")), locs[0].URI)
	assert.Equal(t, uint32(0), locs[0].Range.Start.Line)

	// The reference value of Link.
	res = s.handleDefinition(protocol.DefinitionParams{TextDocumentPositionParams: at(refURI, 1, 9)})
	locs, ok = res.([]protocol.Location)
	require.True(t, ok)
	assert.Equal(t, pathToURI(filepath.Join(tmpDir, "def.def")), locs[0].URI)

	// Unsaved editor text wins over the file on disk.
	openDoc(s, refURI, "Source : Gone { }\n")
	assert.Len(t, diagnosticsFor(t, out, refURI), 1)
	closeDoc(s, refURI)
	assert.Empty(t, diagnosticsFor(t, out, refURI))
}

func TestHandleReferences(t *testing.T) {
	s, _ := newTestServer(t)
	uri := protocol.DocumentURI("file:///work/units.def")
	openDoc(s, uri, unitsDef+"Knight : Archer { }\n")

	locs := s.handleReferences(protocol.ReferenceParams{
		TextDocumentPositionParams: at(uri, 4, 1), // Archer
		Context:                    protocol.ReferenceContext{IncludeDeclaration: true},
	})
	// Declaration, Soldier.friend and Knight.
	require.Len(t, locs, 3)
	assert.Equal(t, uint32(4), locs[0].Range.Start.Line)
	lines := []uint32{locs[1].Range.Start.Line, locs[2].Range.Start.Line}
	assert.ElementsMatch(t, []uint32{2, 7}, lines)
}

func TestLSPFormatting(t *testing.T) {
	s, _ := newTestServer(t)
	uri := protocol.DocumentURI("file:///work/fmt.def")
	content := "unit   A {\nhp=1\n      name = \"a\"\n}\n"
	openDoc(s, uri, content)

	edits := s.handleFormatting(protocol.DocumentFormattingParams{TextDocument: textDoc(uri)})
	require.Len(t, edits, 1)
	assert.Equal(t, "unit A {\n  hp = 1\n  name = \"a\"\n}\n", edits[0].NewText)
	assert.Equal(t, uint32(5), edits[0].Range.End.Line)

	changeDoc(s, uri, "A {\n")
	assert.Nil(t, s.handleFormatting(protocol.DocumentFormattingParams{TextDocument: textDoc(uri)}))
}

func frame(t *testing.T, msgs ...JsonRpcMessage) *bytes.Buffer {
	t.Helper()
	var in bytes.Buffer
	for _, m := range msgs {
		m.Jsonrpc = "2.0"
		body, err := json.Marshal(m)
		require.NoError(t, err)
		fmt.Fprintf(&in, "Content-Length: %d\r\n\r\n%s", len(body), body)
	}
	return &in
}

func TestServeRoundTrip(t *testing.T) {
	uri := protocol.DocumentURI("file:///work/units.def")
	open, _ := json.Marshal(protocol.DidOpenTextDocumentParams{TextDocument: protocol.TextDocumentItem{URI: uri, Text: unitsDef}})
	hoverAt, _ := json.Marshal(hover(uri, 1, 3))
	in := frame(t,
		JsonRpcMessage{Method: "initialize", ID: 1, Params: json.RawMessage(`{}`)},
		JsonRpcMessage{Method: "initialized", Params: json.RawMessage(`{}`)},
		JsonRpcMessage{Method: "textDocument/didOpen", Params: open},
		JsonRpcMessage{Method: "textDocument/hover", ID: 2, Params: hoverAt},
		JsonRpcMessage{Method: "workspace/unknown", ID: 3},
		JsonRpcMessage{Method: "shutdown", ID: 4},
		JsonRpcMessage{Method: "exit"},
		JsonRpcMessage{Method: "textDocument/hover", ID: 5, Params: hoverAt},
	)

	s, out := newTestServer(t)
	require.NoError(t, s.Serve(context.Background(), in))

	byID := map[float64]JsonRpcMessage{}
	for _, m := range messages(t, out) {
		if id, ok := m.ID.(float64); ok {
			byID[id] = m
		}
	}
	require.Contains(t, byID, float64(1))
	caps := byID[1].Result.(map[string]any)["capabilities"].(map[string]any)
	assert.Equal(t, true, caps["hoverProvider"])

	require.Contains(t, byID, float64(2))
	hoverResult := byID[2].Result.(map[string]any)["contents"].(map[string]any)
	assert.Contains(t, hoverResult["value"], "`Soldier.hp`")

	require.Contains(t, byID, float64(3))
	require.NotNil(t, byID[3].Error)
	assert.Equal(t, -32601, byID[3].Error.Code)

	assert.Contains(t, byID, float64(4))
	assert.NotContains(t, byID, float64(5))
}

func TestWordAt(t *testing.T) {
	assert.Equal(t, "Soldier", wordAt("Archer : Soldier {", protocol.Position{Character: 10}))
	assert.Equal(t, "a.b", wordAt("x = a.b + 1", protocol.Position{Character: 5}))
	assert.Equal(t, "", wordAt("x", protocol.Position{Line: 3}))
	assert.Equal(t, "", wordAt("x", protocol.Position{Character: 9}))
}
