package lsp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
)

// DocumentURI is a URI as used on the LSP wire, typically file://.
type DocumentURI string

// Position in a text document, zero-based line and UTF-16 character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a position inside a resource.
type Location struct {
	URI   DocumentURI `json:"uri"`
	Range Range       `json:"range"`
}

// LocationLink is the link-flavoured location some servers return for
// definition-family requests when the client declares linkSupport.
type LocationLink struct {
	OriginSelectionRange *Range      `json:"originSelectionRange,omitempty"`
	TargetURI            DocumentURI `json:"targetUri"`
	TargetRange          Range       `json:"targetRange"`
	TargetSelectionRange Range       `json:"targetSelectionRange"`
}

// TextDocumentIdentifier identifies a text document.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// VersionedTextDocumentIdentifier identifies a specific document version.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version int `json:"version"`
}

// TextDocumentItem transfers a document from client to server.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// TextDocumentPositionParams is the common document+position parameter pair.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// TextEdit is a textual change applicable to a document.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// TextDocumentContentChangeEvent describes a document change. A nil Range
// means full-document replacement.
type TextDocumentContentChangeEvent struct {
	Range *Range `json:"range,omitempty"`
	Text  string `json:"text"`
}

// MarkupKind identifies documentation formats.
type MarkupKind string

const (
	MarkupKindPlainText MarkupKind = "plaintext"
	MarkupKindMarkdown  MarkupKind = "markdown"
)

// MarkupContent is human-readable content with a format tag.
type MarkupContent struct {
	Kind  MarkupKind `json:"kind"`
	Value string     `json:"value"`
}

// WorkspaceFolder names one root of the workspace.
type WorkspaceFolder struct {
	URI  DocumentURI `json:"uri"`
	Name string      `json:"name"`
}

// WorkspaceEdit describes changes to many resources.
type WorkspaceEdit struct {
	Changes         map[DocumentURI][]TextEdit `json:"changes,omitempty"`
	DocumentChanges json.RawMessage            `json:"documentChanges,omitempty"`
}

// --- Lifecycle ---

// ClientInfo names the connecting client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams are the parameters of the initialize request.
// ClientCapabilities and InitializationOptions are opaque blobs supplied by
// the capability catalog and the per-server launch config; the core
// transports them without interpretation.
type InitializeParams struct {
	ProcessID             int               `json:"processId"`
	ClientInfo            *ClientInfo       `json:"clientInfo,omitempty"`
	RootPath              string            `json:"rootPath,omitempty"`
	RootURI               DocumentURI       `json:"rootUri,omitempty"`
	Capabilities          json.RawMessage   `json:"capabilities"`
	InitializationOptions json.RawMessage   `json:"initializationOptions,omitempty"`
	Trace                 string            `json:"trace,omitempty"`
	WorkspaceFolders      []WorkspaceFolder `json:"workspaceFolders,omitempty"`
}

// InitializeResult is the server's answer to initialize. Capabilities stay
// raw so gating can query arbitrary paths without a full schema.
type InitializeResult struct {
	Capabilities json.RawMessage `json:"capabilities"`
	ServerInfo   *ServerInfo     `json:"serverInfo,omitempty"`
}

// ServerInfo names the server, received during the handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializedParams is the (empty) payload of the initialized notification.
type InitializedParams struct{}

// CancelParams carries the id of a request being cancelled.
type CancelParams struct {
	ID ID `json:"id"`
}

// --- Document synchronization ---

// DidOpenTextDocumentParams for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams for textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// DidCloseTextDocumentParams for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidSaveTextDocumentParams for textDocument/didSave.
type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         string                 `json:"text,omitempty"`
}

// TextDocumentSyncKind selects how document changes are synchronized.
type TextDocumentSyncKind int

const (
	SyncKindNone        TextDocumentSyncKind = 0
	SyncKindFull        TextDocumentSyncKind = 1
	SyncKindIncremental TextDocumentSyncKind = 2
)

// --- Diagnostics ---

// PublishDiagnosticsParams for textDocument/publishDiagnostics.
type PublishDiagnosticsParams struct {
	URI         DocumentURI  `json:"uri"`
	Version     int          `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Diagnostic is one issue reported by the server.
type Diagnostic struct {
	Range              Range                          `json:"range"`
	Severity           DiagnosticSeverity             `json:"severity,omitempty"`
	Code               any                            `json:"code,omitempty"`
	Source             string                         `json:"source,omitempty"`
	Message            string                         `json:"message"`
	Tags               []int                          `json:"tags,omitempty"`
	RelatedInformation []DiagnosticRelatedInformation `json:"relatedInformation,omitempty"`
}

// DiagnosticSeverity per LSP.
type DiagnosticSeverity int

const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

// String returns a human-readable severity name.
func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// DiagnosticRelatedInformation points at related occurrences.
type DiagnosticRelatedInformation struct {
	Location Location `json:"location"`
	Message  string   `json:"message"`
}

// --- Completion ---

// CompletionParams for textDocument/completion.
type CompletionParams struct {
	TextDocumentPositionParams
	Context *CompletionContext `json:"context,omitempty"`
}

// CompletionContext describes how completion was triggered.
type CompletionContext struct {
	TriggerKind      CompletionTriggerKind `json:"triggerKind"`
	TriggerCharacter string                `json:"triggerCharacter,omitempty"`
}

// CompletionTriggerKind per LSP.
type CompletionTriggerKind int

const (
	TriggerInvoked                  CompletionTriggerKind = 1
	TriggerCharacter                CompletionTriggerKind = 2
	TriggerForIncompleteCompletions CompletionTriggerKind = 3
)

// CompletionList holds completion items and the incomplete flag.
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// CompletionItem is one completion proposal.
type CompletionItem struct {
	Label         string    `json:"label"`
	Kind          int       `json:"kind,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Documentation any       `json:"documentation,omitempty"` // string or MarkupContent
	SortText      string    `json:"sortText,omitempty"`
	FilterText    string    `json:"filterText,omitempty"`
	InsertText    string    `json:"insertText,omitempty"`
	TextEdit      *TextEdit `json:"textEdit,omitempty"`
}

// --- Hover ---

// HoverParams for textDocument/hover.
type HoverParams struct {
	TextDocumentPositionParams
}

// Hover is the result of a hover request.
type Hover struct {
	Contents json.RawMessage `json:"contents"` // MarkupContent or legacy forms
	Range    *Range          `json:"range,omitempty"`
}

// --- Signature help ---

// SignatureHelpParams for textDocument/signatureHelp.
type SignatureHelpParams struct {
	TextDocumentPositionParams
}

// SignatureHelp lists callable signatures at a position.
type SignatureHelp struct {
	Signatures      []SignatureInformation `json:"signatures"`
	ActiveSignature int                    `json:"activeSignature,omitempty"`
	ActiveParameter int                    `json:"activeParameter,omitempty"`
}

// SignatureInformation describes one signature.
type SignatureInformation struct {
	Label         string                 `json:"label"`
	Documentation any                    `json:"documentation,omitempty"`
	Parameters    []ParameterInformation `json:"parameters,omitempty"`
}

// ParameterInformation describes one parameter of a signature.
type ParameterInformation struct {
	Label         any `json:"label"` // string or [int, int]
	Documentation any `json:"documentation,omitempty"`
}

// --- References ---

// ReferenceParams for textDocument/references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// ReferenceContext controls declaration inclusion.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// --- Symbols ---

// DocumentSymbolParams for textDocument/documentSymbol.
type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DocumentSymbol is a hierarchical symbol.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolInformation is a flat symbol with a location.
type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	Location      Location   `json:"location"`
	ContainerName string     `json:"containerName,omitempty"`
}

// SymbolKind per LSP.
type SymbolKind int

const (
	SymbolKindFile          SymbolKind = 1
	SymbolKindModule        SymbolKind = 2
	SymbolKindNamespace     SymbolKind = 3
	SymbolKindPackage       SymbolKind = 4
	SymbolKindClass         SymbolKind = 5
	SymbolKindMethod        SymbolKind = 6
	SymbolKindProperty      SymbolKind = 7
	SymbolKindField         SymbolKind = 8
	SymbolKindConstructor   SymbolKind = 9
	SymbolKindEnum          SymbolKind = 10
	SymbolKindInterface     SymbolKind = 11
	SymbolKindFunction      SymbolKind = 12
	SymbolKindVariable      SymbolKind = 13
	SymbolKindConstant      SymbolKind = 14
	SymbolKindString        SymbolKind = 15
	SymbolKindNumber        SymbolKind = 16
	SymbolKindBoolean       SymbolKind = 17
	SymbolKindArray         SymbolKind = 18
	SymbolKindObject        SymbolKind = 19
	SymbolKindKey           SymbolKind = 20
	SymbolKindNull          SymbolKind = 21
	SymbolKindEnumMember    SymbolKind = 22
	SymbolKindStruct        SymbolKind = 23
	SymbolKindEvent         SymbolKind = 24
	SymbolKindOperator      SymbolKind = 25
	SymbolKindTypeParameter SymbolKind = 26
)

var symbolKindNames = map[SymbolKind]string{
	SymbolKindFile:          "file",
	SymbolKindModule:        "module",
	SymbolKindNamespace:     "namespace",
	SymbolKindPackage:       "package",
	SymbolKindClass:         "class",
	SymbolKindMethod:        "method",
	SymbolKindProperty:      "property",
	SymbolKindField:         "field",
	SymbolKindConstructor:   "constructor",
	SymbolKindEnum:          "enum",
	SymbolKindInterface:     "interface",
	SymbolKindFunction:      "function",
	SymbolKindVariable:      "variable",
	SymbolKindConstant:      "constant",
	SymbolKindString:        "string",
	SymbolKindNumber:        "number",
	SymbolKindBoolean:       "boolean",
	SymbolKindArray:         "array",
	SymbolKindObject:        "object",
	SymbolKindKey:           "key",
	SymbolKindNull:          "null",
	SymbolKindEnumMember:    "enum member",
	SymbolKindStruct:        "struct",
	SymbolKindEvent:         "event",
	SymbolKindOperator:      "operator",
	SymbolKindTypeParameter: "type parameter",
}

// String returns a human-readable kind name.
func (k SymbolKind) String() string {
	if name, ok := symbolKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// WorkspaceSymbolParams for workspace/symbol.
type WorkspaceSymbolParams struct {
	Query string `json:"query"`
}

// --- Rename ---

// RenameParams for textDocument/rename.
type RenameParams struct {
	TextDocumentPositionParams
	NewName string `json:"newName"`
}

// --- Formatting ---

// FormattingOptions control formatting requests.
type FormattingOptions struct {
	TabSize      int  `json:"tabSize"`
	InsertSpaces bool `json:"insertSpaces"`
}

// DocumentFormattingParams for textDocument/formatting.
type DocumentFormattingParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Options      FormattingOptions      `json:"options"`
}

// DocumentRangeFormattingParams for textDocument/rangeFormatting.
type DocumentRangeFormattingParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Range        Range                  `json:"range"`
	Options      FormattingOptions      `json:"options"`
}

// --- Code actions ---

// CodeActionParams for textDocument/codeAction.
type CodeActionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Range        Range                  `json:"range"`
	Context      CodeActionContext      `json:"context"`
}

// CodeActionContext carries the diagnostics the action should address.
type CodeActionContext struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
	Only        []string     `json:"only,omitempty"`
}

// CodeAction is one available action.
type CodeAction struct {
	Title       string         `json:"title"`
	Kind        string         `json:"kind,omitempty"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
	IsPreferred bool           `json:"isPreferred,omitempty"`
	Edit        *WorkspaceEdit `json:"edit,omitempty"`
}

// --- Server-to-client requests and notifications ---

// ConfigurationParams for workspace/configuration.
type ConfigurationParams struct {
	Items []ConfigurationItem `json:"items"`
}

// ConfigurationItem names one requested configuration section.
type ConfigurationItem struct {
	ScopeURI DocumentURI `json:"scopeUri,omitempty"`
	Section  string      `json:"section,omitempty"`
}

// WorkDoneProgressCreateParams for window/workDoneProgress/create.
type WorkDoneProgressCreateParams struct {
	Token any `json:"token"` // integer or string
}

// ProgressParams for $/progress.
type ProgressParams struct {
	Token any             `json:"token"`
	Value json.RawMessage `json:"value"`
}

// LogMessageParams for window/logMessage.
type LogMessageParams struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
}

// ShowMessageParams for window/showMessage.
type ShowMessageParams struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
}

// --- Utility functions ---

// FilePathToURI converts a file path to a file:// DocumentURI.
func FilePathToURI(path string) DocumentURI {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	path = filepath.ToSlash(path)
	if runtime.GOOS == "windows" && len(path) >= 2 && path[1] == ':' {
		path = "/" + path
	}
	u := &url.URL{Scheme: "file", Path: path}
	return DocumentURI(u.String())
}

// URIToFilePath converts a DocumentURI back to a file path. Non-file URIs
// are returned unchanged.
func URIToFilePath(uri DocumentURI) string {
	if uri == "" {
		return ""
	}
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}
	path := u.Path
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return filepath.FromSlash(path)
}

// ParseLocationResult normalizes a definition-family result, which may be a
// single Location, an array of Locations, or an array of LocationLinks.
func ParseLocationResult(data json.RawMessage) ([]Location, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var loc Location
	if err := json.Unmarshal(data, &loc); err == nil && loc.URI != "" {
		return []Location{loc}, nil
	}

	var locs []Location
	if err := json.Unmarshal(data, &locs); err == nil && (len(locs) == 0 || locs[0].URI != "") {
		return locs, nil
	}

	var links []LocationLink
	if err := json.Unmarshal(data, &links); err == nil {
		locs = make([]Location, len(links))
		for i, l := range links {
			locs[i] = Location{URI: l.TargetURI, Range: l.TargetSelectionRange}
		}
		return locs, nil
	}

	return nil, fmt.Errorf("%w: unrecognized location result", ErrProtocolViolation)
}

// ParseCompletionResult normalizes a completion result, which may be a
// CompletionList or a bare item array.
func ParseCompletionResult(data json.RawMessage) (*CompletionList, error) {
	if len(data) == 0 || string(data) == "null" {
		return &CompletionList{}, nil
	}

	var list CompletionList
	if err := json.Unmarshal(data, &list); err == nil && (list.Items != nil || list.IsIncomplete) {
		return &list, nil
	}

	var items []CompletionItem
	if err := json.Unmarshal(data, &items); err == nil {
		return &CompletionList{Items: items}, nil
	}

	return nil, fmt.Errorf("%w: unrecognized completion result", ErrProtocolViolation)
}

// ParseSymbolResult normalizes a documentSymbol result, which may be
// hierarchical DocumentSymbols or flat SymbolInformation entries.
func ParseSymbolResult(data json.RawMessage) ([]DocumentSymbol, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var syms []DocumentSymbol
	if err := json.Unmarshal(data, &syms); err == nil && (len(syms) == 0 || syms[0].SelectionRange != (Range{}) || syms[0].Range != (Range{})) {
		return syms, nil
	}

	var infos []SymbolInformation
	if err := json.Unmarshal(data, &infos); err == nil {
		syms = make([]DocumentSymbol, len(infos))
		for i, si := range infos {
			syms[i] = DocumentSymbol{
				Name:           si.Name,
				Kind:           si.Kind,
				Range:          si.Location.Range,
				SelectionRange: si.Location.Range,
			}
		}
		return syms, nil
	}

	return nil, fmt.Errorf("%w: unrecognized symbol result", ErrProtocolViolation)
}

// DetectLanguageID returns the LSP language id for a file path, or ""
// when the extension is not recognized.
func DetectLanguageID(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	case ".ts":
		return "typescript"
	case ".tsx":
		return "typescriptreact"
	case ".js":
		return "javascript"
	case ".jsx":
		return "javascriptreact"
	case ".py":
		return "python"
	case ".rb":
		return "ruby"
	case ".java":
		return "java"
	case ".c":
		return "c"
	case ".cpp", ".cc", ".cxx", ".h", ".hpp":
		return "cpp"
	case ".cs":
		return "csharp"
	case ".php":
		return "php"
	case ".lua":
		return "lua"
	case ".zig":
		return "zig"
	case ".ex", ".exs":
		return "elixir"
	default:
		return ""
	}
}
