// Package lsp implements a small language server for definition files:
// diagnostics, hover, go to definition, references and formatting.
package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/marte-community/dt-engine/internal/dt"
	"github.com/marte-community/dt-engine/internal/formatter"
	"github.com/marte-community/dt-engine/internal/logger"
	"github.com/marte-community/dt-engine/internal/lsp/cache"
	"github.com/marte-community/dt-engine/internal/parser"
	"github.com/marte-community/dt-engine/internal/schema"
)

type JsonRpcMessage struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *JsonRpcError   `json:"error,omitempty"`
}

type JsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server answers requests from one client. Requests are handled in order.
type Server struct {
	session *cache.Session
	schema  *schema.Schema
	globals dt.VarsMap

	mu  sync.Mutex
	out io.Writer
}

func NewServer(out io.Writer) *Server {
	s := &Server{session: cache.NewSession("dt"), out: out}
	s.session.CreateView("default", "/")
	return s
}

// SetSchema validates the workspace against sch.
func (s *Server) SetSchema(sch *schema.Schema) {
	s.schema = sch
	for _, v := range s.session.Views() {
		v.SetSchema(sch)
	}
}

// SetGlobals sets the globals #if directives see.
func (s *Server) SetGlobals(globals dt.VarsMap) {
	s.globals = globals
	for _, v := range s.session.Views() {
		v.SetGlobals(globals)
	}
}

// RunServer serves the client on stdin and stdout.
func RunServer(ctx context.Context, sch *schema.Schema, globals dt.VarsMap) error {
	s := NewServer(os.Stdout)
	if sch != nil {
		s.SetSchema(sch)
	}
	if globals != nil {
		s.SetGlobals(globals)
	}
	return s.Serve(ctx, os.Stdin)
}

// Serve reads messages until in is exhausted, the client sends exit or ctx
// ends.
func (s *Server) Serve(ctx context.Context, in io.Reader) error {
	reader := bufio.NewReader(in)
	for ctx.Err() == nil {
		msg, err := readMessage(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			logger.Error("error reading message", "error", err)
			continue
		}
		if msg.Method == "exit" {
			return nil
		}
		s.handleMessage(ctx, msg)
	}
	return ctx.Err()
}

func readMessage(reader *bufio.Reader) (*JsonRpcMessage, error) {
	var contentLength int
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		if _, err := fmt.Sscanf(line, "Content-Length: %d", &contentLength); err == nil {
			continue
		}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, err
	}

	var msg JsonRpcMessage
	err := json.Unmarshal(body, &msg)
	return &msg, err
}

func (s *Server) handleMessage(ctx context.Context, msg *JsonRpcMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("request panicked", "method", msg.Method, "panic", fmt.Sprint(r))
			if msg.ID != nil {
				s.respondError(msg.ID, -32603, "internal error")
			}
		}
	}()

	switch msg.Method {
	case "initialize":
		var params protocol.InitializeParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			s.handleInitialize(ctx, params)
		}
		s.respond(msg.ID, protocol.InitializeResult{
			Capabilities: protocol.ServerCapabilities{
				TextDocumentSync:           protocol.TextDocumentSyncKindFull,
				HoverProvider:              true,
				DefinitionProvider:         true,
				ReferencesProvider:         true,
				DocumentFormattingProvider: true,
			},
			ServerInfo: &protocol.ServerInfo{Name: "dt"},
		})
	case "initialized":
	case "shutdown":
		s.respond(msg.ID, nil)
	case "textDocument/didOpen":
		var params protocol.DidOpenTextDocumentParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			s.handleDidOpen(params)
		}
	case "textDocument/didChange":
		var params protocol.DidChangeTextDocumentParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			s.handleDidChange(params)
		}
	case "textDocument/didClose":
		var params protocol.DidCloseTextDocumentParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			s.handleDidClose(params)
		}
	case "textDocument/hover":
		var params protocol.HoverParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.respond(msg.ID, nil)
			return
		}
		s.respond(msg.ID, s.handleHover(params))
	case "textDocument/definition":
		var params protocol.DefinitionParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.respond(msg.ID, nil)
			return
		}
		s.respond(msg.ID, s.handleDefinition(params))
	case "textDocument/references":
		var params protocol.ReferenceParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.respond(msg.ID, nil)
			return
		}
		s.respond(msg.ID, s.handleReferences(params))
	case "textDocument/formatting":
		var params protocol.DocumentFormattingParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.respond(msg.ID, nil)
			return
		}
		s.respond(msg.ID, s.handleFormatting(params))
	default:
		if msg.ID != nil {
			s.respondError(msg.ID, -32601, "method not found: "+msg.Method)
		}
	}
}

func uriToPath(u protocol.DocumentURI) string {
	if strings.HasPrefix(string(u), "file://") {
		return uri.URI(u).Filename()
	}
	return string(u)
}

func pathToURI(path string) protocol.DocumentURI {
	return protocol.DocumentURI(uri.File(path))
}

func (s *Server) handleInitialize(ctx context.Context, params protocol.InitializeParams) {
	root := params.RootPath
	if params.RootURI != "" {
		root = uriToPath(params.RootURI)
	}
	if root == "" {
		return
	}
	v := s.session.CreateView(root, root)
	if s.schema != nil {
		v.SetSchema(s.schema)
	}
	if s.globals != nil {
		v.SetGlobals(s.globals)
	}
	if err := v.Scan(ctx); err != nil {
		logger.Warn("workspace scan failed", "root", root, "error", err)
	}
	s.publishDiagnostics(v.Snapshot())
}

func (s *Server) handleDidOpen(params protocol.DidOpenTextDocumentParams) {
	path := uriToPath(params.TextDocument.URI)
	snap := s.session.ViewOf(path).Open(path, params.TextDocument.Text)
	s.publishDiagnostics(snap)
}

func (s *Server) handleDidChange(params protocol.DidChangeTextDocumentParams) {
	if len(params.ContentChanges) == 0 {
		return
	}
	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	path := uriToPath(params.TextDocument.URI)
	snap := s.session.ViewOf(path).Open(path, text)
	s.publishDiagnostics(snap)
}

func (s *Server) handleDidClose(params protocol.DidCloseTextDocumentParams) {
	path := uriToPath(params.TextDocument.URI)
	snap := s.session.ViewOf(path).Close(path)
	s.publishDiagnostics(snap)
	if _, ok := snap.Document(path); !ok {
		s.send(JsonRpcMessage{
			Jsonrpc: "2.0",
			Method:  "textDocument/publishDiagnostics",
			Params:  mustMarshal(protocol.PublishDiagnosticsParams{URI: pathToURI(path), Diagnostics: []protocol.Diagnostic{}}),
		})
	}
}

func (s *Server) snapshotOf(u protocol.DocumentURI) (*cache.Snapshot, string) {
	path := uriToPath(u)
	return s.session.ViewOf(path).Snapshot(), path
}

func (s *Server) handleHover(params protocol.HoverParams) *protocol.Hover {
	snap, path := s.snapshotOf(params.TextDocument.URI)
	f := fieldAt(snap.DT(), path, params.Position)
	if f == nil {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: formatFieldInfo(f),
		},
	}
}

func formatFieldInfo(f *dt.Field) string {
	var sb strings.Builder
	if typ := f.Type(); typ != "" {
		fmt.Fprintf(&sb, "**%s** `%s`", typ, f.Path())
	} else {
		fmt.Fprintf(&sb, "`%s`", f.Path())
	}
	if base := f.BasedOn(); base != nil {
		fmt.Fprintf(&sb, "\n\nBased on `%s`", base.Origin().Path())
	}
	if n := len(f.Extensions()); n > 0 {
		fmt.Fprintf(&sb, "\n\nExtended %d time(s)", n)
	}
	if f.HasCases() {
		sb.WriteString("\n\nSwitch")
		if c := f.ResolveCase(nil, true); c != nil {
			fmt.Fprintf(&sb, ", active case `%s`", c.Key())
		}
	}
	if v := f.Value(nil); !v.IsUnknown() {
		fmt.Fprintf(&sb, "\n\nValue: `%s`", v.Literal())
	}
	if n := len(f.Children()); n > 0 {
		fmt.Fprintf(&sb, "\n\n%d field(s)", n)
	}
	return sb.String()
}

// fieldAt returns the innermost field declared at pos in path.
func fieldAt(d *dt.DT, path string, pos protocol.Position) *dt.Field {
	line, col := int(pos.Line)+1, int(pos.Character)+1
	var best *dt.Field
	var visit func(f *dt.Field)
	visit = func(f *dt.Field) {
		p := f.Position()
		if p.Line == line && p.Column <= col {
			if best == nil || p.Column >= best.Position().Column {
				best = f
			}
		}
		for _, c := range f.OwnChildren() {
			visit(c)
		}
	}
	for _, file := range d.Files() {
		if file.File() != path {
			continue
		}
		for _, c := range file.OwnChildren() {
			visit(c)
		}
	}
	return best
}

// wordAt returns the identifier under pos in text.
func wordAt(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	if int(pos.Character) > len(line) {
		return ""
	}
	isWord := func(b byte) bool {
		return b == '_' || b == '.' || b == '-' || b == '@' ||
			(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
	}
	start, end := int(pos.Character), int(pos.Character)
	for start > 0 && isWord(line[start-1]) {
		start--
	}
	for end < len(line) && isWord(line[end]) {
		end++
	}
	return line[start:end]
}

func (s *Server) handleDefinition(params protocol.DefinitionParams) any {
	snap, path := s.snapshotOf(params.TextDocument.URI)
	target := s.targetAt(snap, path, params.Position)
	if target == nil {
		return nil
	}
	return []protocol.Location{location(target)}
}

// targetAt resolves what the symbol under pos refers to: the base of the
// field, the field a reference value names, or a root with that name.
func (s *Server) targetAt(snap *cache.Snapshot, path string, pos protocol.Position) *dt.Field {
	text, _ := snap.Document(path)
	word := wordAt(text, pos)
	if word == "" {
		return nil
	}
	d := snap.DT()
	if f := fieldAt(d, path, pos); f != nil {
		if base := f.BasedOn(); base != nil && f.BasePath() == word {
			return base.Origin()
		}
		if lit, ok := f.Literal(); ok {
			if ref, ok := lit.Obj().(*dt.Reference); ok && ref.Path == word {
				if target, ok := f.Value(nil).Obj().(*dt.Field); ok {
					return target.Origin()
				}
			}
		}
	}
	return d.Find(word)
}

func (s *Server) handleReferences(params protocol.ReferenceParams) []protocol.Location {
	snap, path := s.snapshotOf(params.TextDocument.URI)
	d := snap.DT()
	target := fieldAt(d, path, params.Position)
	if target == nil || target.Key() == "" {
		target = s.targetAt(snap, path, params.Position)
	}
	if target == nil {
		return nil
	}
	target = target.Origin()

	var locs []protocol.Location
	if params.Context.IncludeDeclaration {
		locs = append(locs, location(target))
	}
	var visit func(f *dt.Field)
	visit = func(f *dt.Field) {
		if f != target && refersTo(f, target) {
			locs = append(locs, location(f))
		}
		for _, c := range f.OwnChildren() {
			visit(c)
		}
	}
	for _, file := range d.Files() {
		for _, c := range file.OwnChildren() {
			visit(c)
		}
	}
	return locs
}

func refersTo(f, target *dt.Field) bool {
	if f.BasePath() != "" && f.BasedOn() != nil && f.BasedOn().Origin() == target {
		return true
	}
	if f.Extends() != nil && f.Extends().Origin() == target {
		return true
	}
	if !f.HasOwnValue() {
		return false
	}
	lit, _ := f.Literal()
	if _, ok := lit.Obj().(*dt.Reference); !ok {
		return false
	}
	ref, ok := f.Value(nil).Obj().(*dt.Field)
	return ok && ref.Origin() == target
}

func location(f *dt.Field) protocol.Location {
	start := toPosition(f.Position())
	end := start
	end.Character += uint32(len(f.Key()))
	return protocol.Location{URI: pathToURI(f.File()), Range: protocol.Range{Start: start, End: end}}
}

// toPosition converts a 1-based source position to a 0-based LSP one.
func toPosition(p parser.Position) protocol.Position {
	return protocol.Position{
		Line:      uint32(max(p.Line-1, 0)),
		Character: uint32(max(p.Column-1, 0)),
	}
}

func (s *Server) handleFormatting(params protocol.DocumentFormattingParams) []protocol.TextEdit {
	snap, path := s.snapshotOf(params.TextDocument.URI)
	text, ok := snap.Document(path)
	if !ok || strings.EqualFold(filepath.Ext(path), dt.CSVExt) {
		return nil
	}
	p := parser.NewFileParser(path, text)
	config, err := p.Parse()
	if err != nil || len(p.Errors()) > 0 {
		return nil
	}
	var sb strings.Builder
	formatter.Format(config, &sb)

	lines := uint32(strings.Count(text, "\n") + 1)
	return []protocol.TextEdit{{
		Range:   protocol.Range{Start: protocol.Position{}, End: protocol.Position{Line: lines, Character: 0}},
		NewText: sb.String(),
	}}
}

func (s *Server) publishDiagnostics(snap *cache.Snapshot) {
	for path, diags := range snap.Diagnostics() {
		out := make([]protocol.Diagnostic, 0, len(diags))
		for _, d := range diags {
			out = append(out, toLSP(d))
		}
		s.send(JsonRpcMessage{
			Jsonrpc: "2.0",
			Method:  "textDocument/publishDiagnostics",
			Params:  mustMarshal(protocol.PublishDiagnosticsParams{URI: pathToURI(path), Diagnostics: out}),
		})
	}
}

func toLSP(d dt.Diagnostic) protocol.Diagnostic {
	start := toPosition(d.Position)
	end := protocol.Position{Line: start.Line, Character: start.Character + 1}
	severity := protocol.DiagnosticSeverityError
	if d.Level == dt.LevelWarning {
		severity = protocol.DiagnosticSeverityWarning
	}
	msg := d.Message
	if d.Path != "" {
		msg = d.Path + ": " + msg
	}
	return protocol.Diagnostic{
		Range:    protocol.Range{Start: start, End: end},
		Severity: severity,
		Source:   "dt/" + d.Kind.String(),
		Message:  msg,
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func (s *Server) respond(id any, result any) {
	s.send(JsonRpcMessage{
		Jsonrpc: "2.0",
		ID:      id,
		Result:  result,
	})
}

func (s *Server) respondError(id any, code int, message string) {
	s.send(JsonRpcMessage{
		Jsonrpc: "2.0",
		ID:      id,
		Error:   &JsonRpcError{Code: code, Message: message},
	})
}

func (s *Server) send(msg any) {
	body, _ := json.Marshal(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "Content-Length: %d\r\n\r\n%s", len(body), body)
}
