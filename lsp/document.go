package lsp

import (
	"strings"
	"sync"
	"unicode/utf16"
	"unicode/utf8"
)

// Document is a snapshot of one synchronized document.
type Document struct {
	URI        DocumentURI
	LanguageID string
	Version    int
	Content    string
}

// openDocument is the live handle for an open document. Its mutex
// serializes synchronization traffic for that one URI: a later change
// supersedes an earlier one by arrival order at the session, and the
// version counter never moves backwards while the document is open.
type openDocument struct {
	mu  sync.Mutex
	doc Document
}

// documentSet tracks the open documents of one session.
type documentSet struct {
	mu   sync.RWMutex
	docs map[DocumentURI]*openDocument
}

func newDocumentSet() *documentSet {
	return &documentSet{docs: make(map[DocumentURI]*openDocument)}
}

// open creates a handle at version 0. Opening an already-open URI fails
// with ErrDocumentAlreadyOpen.
func (ds *documentSet) open(uri DocumentURI, languageID, content string) (*openDocument, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if _, exists := ds.docs[uri]; exists {
		return nil, ErrDocumentAlreadyOpen
	}
	od := &openDocument{doc: Document{
		URI:        uri,
		LanguageID: languageID,
		Version:    0,
		Content:    content,
	}}
	ds.docs[uri] = od
	return od, nil
}

// get returns the handle for an open URI.
func (ds *documentSet) get(uri DocumentURI) (*openDocument, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	od, exists := ds.docs[uri]
	if !exists {
		return nil, ErrDocumentNotOpen
	}
	return od, nil
}

// close destroys the handle. Closing a URI that is not open fails with
// ErrDocumentNotOpen.
func (ds *documentSet) close(uri DocumentURI) (*openDocument, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	od, exists := ds.docs[uri]
	if !exists {
		return nil, ErrDocumentNotOpen
	}
	delete(ds.docs, uri)
	return od, nil
}

// applyChange applies one content change to text. A change without a
// range replaces the whole document; a ranged change splices its text
// into the span the range covers.
func applyChange(text string, change TextDocumentContentChangeEvent) string {
	if change.Range == nil {
		return change.Text
	}
	start := offsetAt(text, change.Range.Start)
	end := offsetAt(text, change.Range.End)
	if end < start {
		end = start
	}
	return text[:start] + change.Text + text[end:]
}

// offsetAt converts a protocol position (zero-based line, UTF-16 code
// unit column) to a byte offset in text, clamping past-the-end
// positions to the nearest valid offset.
func offsetAt(text string, pos Position) int {
	offset := 0
	for line := 0; line < pos.Line; line++ {
		i := strings.IndexByte(text[offset:], '\n')
		if i < 0 {
			return len(text)
		}
		offset += i + 1
	}
	units := 0
	for offset < len(text) && units < pos.Character {
		r, size := utf8.DecodeRuneInString(text[offset:])
		if r == '\n' {
			break
		}
		units += utf16.RuneLen(r)
		offset += size
	}
	return offset
}

// snapshot returns copies of all open documents.
func (ds *documentSet) snapshot() []Document {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	docs := make([]Document, 0, len(ds.docs))
	for _, od := range ds.docs {
		od.mu.Lock()
		docs = append(docs, od.doc)
		od.mu.Unlock()
	}
	return docs
}
