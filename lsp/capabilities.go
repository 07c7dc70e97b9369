package lsp

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// ServerCapabilities is the immutable capability snapshot taken from the
// initialize response. It keeps the raw JSON so gating can query any
// provider path without modeling the full 3.17 schema; LSP encodes most
// providers as either a boolean or an options object.
type ServerCapabilities struct {
	raw json.RawMessage
}

// newServerCapabilities wraps the raw capabilities object.
func newServerCapabilities(raw json.RawMessage) ServerCapabilities {
	return ServerCapabilities{raw: raw}
}

// Raw returns the capability JSON as received.
func (c ServerCapabilities) Raw() json.RawMessage {
	return c.raw
}

// Supports reports whether the capability at the given gjson path is
// advertised. false, null, and absent all mean unsupported; an options
// object or any other value means supported.
func (c ServerCapabilities) Supports(path string) bool {
	v := gjson.GetBytes(c.raw, path)
	switch v.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	default:
		return v.Exists()
	}
}

// SyncKind extracts the negotiated document sync kind. textDocumentSync may
// be a bare number or an options object with a change field; omitting it
// means no sync.
func (c ServerCapabilities) SyncKind() TextDocumentSyncKind {
	v := gjson.GetBytes(c.raw, "textDocumentSync")
	switch {
	case !v.Exists():
		return SyncKindNone
	case v.Type == gjson.Number:
		return TextDocumentSyncKind(v.Int())
	case v.IsObject():
		if change := v.Get("change"); change.Exists() {
			return TextDocumentSyncKind(change.Int())
		}
		return SyncKindFull
	default:
		return SyncKindFull
	}
}

// Capability paths used to gate feature calls.
const (
	capDefinition      = "definitionProvider"
	capTypeDefinition  = "typeDefinitionProvider"
	capImplementation  = "implementationProvider"
	capReferences      = "referencesProvider"
	capHover           = "hoverProvider"
	capDocumentSymbol  = "documentSymbolProvider"
	capWorkspaceSymbol = "workspaceSymbolProvider"
	capCompletion      = "completionProvider"
	capSignatureHelp   = "signatureHelpProvider"
	capRename          = "renameProvider"
	capFormatting      = "documentFormattingProvider"
	capRangeFormatting = "documentRangeFormattingProvider"
	capCodeAction      = "codeActionProvider"
)
