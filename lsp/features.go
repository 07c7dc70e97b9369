package lsp

import (
	"context"
	"encoding/json"
)

// Definition resolves the definition location(s) for the symbol at pos.
func (s *Session) Definition(ctx context.Context, path string, pos Position) ([]Location, error) {
	if err := s.requireCapability(capDefinition); err != nil {
		return nil, err
	}
	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     pos,
	}
	var result json.RawMessage
	if err := s.call(ctx, MethodDefinition, params, &result); err != nil {
		return nil, err
	}
	return ParseLocationResult(result)
}

// TypeDefinition resolves the type definition location(s).
func (s *Session) TypeDefinition(ctx context.Context, path string, pos Position) ([]Location, error) {
	if err := s.requireCapability(capTypeDefinition); err != nil {
		return nil, err
	}
	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     pos,
	}
	var result json.RawMessage
	if err := s.call(ctx, MethodTypeDefinition, params, &result); err != nil {
		return nil, err
	}
	return ParseLocationResult(result)
}

// Implementation resolves implementation location(s) for an interface or
// abstract symbol.
func (s *Session) Implementation(ctx context.Context, path string, pos Position) ([]Location, error) {
	if err := s.requireCapability(capImplementation); err != nil {
		return nil, err
	}
	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     pos,
	}
	var result json.RawMessage
	if err := s.call(ctx, MethodImplementation, params, &result); err != nil {
		return nil, err
	}
	return ParseLocationResult(result)
}

// References finds all references to the symbol at pos.
func (s *Session) References(ctx context.Context, path string, pos Position, includeDecl bool) ([]Location, error) {
	if err := s.requireCapability(capReferences); err != nil {
		return nil, err
	}
	params := ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		},
		Context: ReferenceContext{IncludeDeclaration: includeDecl},
	}
	var result []Location
	if err := s.call(ctx, MethodReferences, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Hover returns hover content at pos, or nil when the server has nothing
// to say.
func (s *Session) Hover(ctx context.Context, path string, pos Position) (*Hover, error) {
	if err := s.requireCapability(capHover); err != nil {
		return nil, err
	}
	params := HoverParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		},
	}
	var result *Hover
	if err := s.call(ctx, MethodHover, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DocumentSymbols lists the symbols of a document, normalized to the
// hierarchical shape.
func (s *Session) DocumentSymbols(ctx context.Context, path string) ([]DocumentSymbol, error) {
	if err := s.requireCapability(capDocumentSymbol); err != nil {
		return nil, err
	}
	params := DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
	}
	var result json.RawMessage
	if err := s.call(ctx, MethodDocumentSymbol, params, &result); err != nil {
		return nil, err
	}
	return ParseSymbolResult(result)
}

// WorkspaceSymbols searches workspace symbols matching the query.
func (s *Session) WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInformation, error) {
	if err := s.requireCapability(capWorkspaceSymbol); err != nil {
		return nil, err
	}
	var result []SymbolInformation
	if err := s.call(ctx, MethodWorkspaceSymbol, WorkspaceSymbolParams{Query: query}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Completion requests completion items at pos.
func (s *Session) Completion(ctx context.Context, path string, pos Position) (*CompletionList, error) {
	if err := s.requireCapability(capCompletion); err != nil {
		return nil, err
	}
	params := CompletionParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		},
		Context: &CompletionContext{TriggerKind: TriggerInvoked},
	}
	var result json.RawMessage
	if err := s.call(ctx, MethodCompletion, params, &result); err != nil {
		return nil, err
	}
	return ParseCompletionResult(result)
}

// SignatureHelp requests signature information at pos.
func (s *Session) SignatureHelp(ctx context.Context, path string, pos Position) (*SignatureHelp, error) {
	if err := s.requireCapability(capSignatureHelp); err != nil {
		return nil, err
	}
	params := SignatureHelpParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		},
	}
	var result *SignatureHelp
	if err := s.call(ctx, MethodSignatureHelp, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Rename computes the workspace edit renaming the symbol at pos.
func (s *Session) Rename(ctx context.Context, path string, pos Position, newName string) (*WorkspaceEdit, error) {
	if err := s.requireCapability(capRename); err != nil {
		return nil, err
	}
	params := RenameParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		},
		NewName: newName,
	}
	var result *WorkspaceEdit
	if err := s.call(ctx, MethodRename, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Formatting formats an entire document.
func (s *Session) Formatting(ctx context.Context, path string, opts FormattingOptions) ([]TextEdit, error) {
	if err := s.requireCapability(capFormatting); err != nil {
		return nil, err
	}
	params := DocumentFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Options:      opts,
	}
	var result []TextEdit
	if err := s.call(ctx, MethodFormatting, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// RangeFormatting formats a range within a document.
func (s *Session) RangeFormatting(ctx context.Context, path string, rng Range, opts FormattingOptions) ([]TextEdit, error) {
	if err := s.requireCapability(capRangeFormatting); err != nil {
		return nil, err
	}
	params := DocumentRangeFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Range:        rng,
		Options:      opts,
	}
	var result []TextEdit
	if err := s.call(ctx, MethodRangeFormatting, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CodeActions lists available actions for a range and its diagnostics.
func (s *Session) CodeActions(ctx context.Context, path string, rng Range, diags []Diagnostic) ([]CodeAction, error) {
	if err := s.requireCapability(capCodeAction); err != nil {
		return nil, err
	}
	params := CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Range:        rng,
		Context:      CodeActionContext{Diagnostics: diags},
	}
	var result []CodeAction
	if err := s.call(ctx, MethodCodeAction, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}
