package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// clientCapabilities is the full capability declaration sent to servers
// launched from the catalog. Kept as a literal blob so the wire form stays
// inspectable.
const clientCapabilities = `{
	"textDocument": {
		"synchronization": {
			"dynamicRegistration": false,
			"didSave": true,
			"willSave": false
		},
		"publishDiagnostics": {
			"relatedInformation": true,
			"versionSupport": false,
			"tagSupport": {"valueSet": [1, 2]}
		},
		"completion": {
			"completionItem": {
				"snippetSupport": false,
				"documentationFormat": ["markdown", "plaintext"]
			},
			"contextSupport": true
		},
		"hover": {"contentFormat": ["markdown", "plaintext"]},
		"signatureHelp": {
			"signatureInformation": {
				"documentationFormat": ["markdown", "plaintext"]
			}
		},
		"definition": {"linkSupport": true},
		"typeDefinition": {"linkSupport": true},
		"implementation": {"linkSupport": true},
		"references": {},
		"documentSymbol": {"hierarchicalDocumentSymbolSupport": true},
		"codeAction": {
			"codeActionLiteralSupport": {
				"codeActionKind": {"valueSet": ["quickfix", "refactor", "source"]}
			}
		},
		"rename": {"prepareSupport": false},
		"formatting": {},
		"rangeFormatting": {}
	},
	"workspace": {
		"workspaceFolders": true,
		"configuration": true,
		"symbol": {},
		"didChangeWatchedFiles": {"dynamicRegistration": false}
	},
	"window": {
		"workDoneProgress": true,
		"showMessage": {}
	}
}`

// ClientCapabilities returns the stock capability declaration.
func ClientCapabilities() json.RawMessage {
	return json.RawMessage(clientCapabilities)
}

// MergeOptions overlays override values onto a base JSON document. Paths
// use dotted notation ("completion.snippets"); overrides win. The base may
// be empty.
func MergeOptions(base json.RawMessage, overrides map[string]any) (json.RawMessage, error) {
	out := []byte(base)
	if len(out) == 0 {
		out = []byte(`{}`)
	}

	for path, value := range overrides {
		merged, err := sjson.SetBytes(out, path, value)
		if err != nil {
			return nil, fmt.Errorf("merge option %q: %w", path, err)
		}
		out = merged
	}
	return out, nil
}
