package lsp

// LSP method names used by the client.
const (
	// Lifecycle
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"

	// Base protocol
	MethodCancelRequest = "$/cancelRequest"
	MethodProgress      = "$/progress"

	// Document synchronization
	MethodDidOpen   = "textDocument/didOpen"
	MethodDidChange = "textDocument/didChange"
	MethodDidClose  = "textDocument/didClose"
	MethodDidSave   = "textDocument/didSave"

	// Language features
	MethodDefinition      = "textDocument/definition"
	MethodTypeDefinition  = "textDocument/typeDefinition"
	MethodImplementation  = "textDocument/implementation"
	MethodReferences      = "textDocument/references"
	MethodHover           = "textDocument/hover"
	MethodDocumentSymbol  = "textDocument/documentSymbol"
	MethodCompletion      = "textDocument/completion"
	MethodSignatureHelp   = "textDocument/signatureHelp"
	MethodRename          = "textDocument/rename"
	MethodFormatting      = "textDocument/formatting"
	MethodRangeFormatting = "textDocument/rangeFormatting"
	MethodCodeAction      = "textDocument/codeAction"
	MethodWorkspaceSymbol = "workspace/symbol"

	// Server-to-client
	MethodPublishDiagnostics     = "textDocument/publishDiagnostics"
	MethodWorkspaceConfiguration = "workspace/configuration"
	MethodWorkDoneProgressCreate = "window/workDoneProgress/create"
	MethodLogMessage             = "window/logMessage"
	MethodShowMessage            = "window/showMessage"
)
