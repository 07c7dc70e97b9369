package lsp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// frameReader reads Content-Length delimited frames from a byte stream.
// Frames may arrive in arbitrarily small chunks; the underlying bufio.Reader
// carries partial data across calls.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// ReadFrame blocks until a complete header+payload is available and returns
// the payload bytes. EOF before a header or mid-frame yields
// ErrTransportClosed.
func (fr *frameReader) ReadFrame() ([]byte, error) {
	contentLength := -1
	for {
		line, err := fr.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // end of headers
		}
		if name, value, ok := strings.Cut(line, ":"); ok {
			if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
				n, err := strconv.Atoi(strings.TrimSpace(value))
				if err != nil {
					return nil, fmt.Errorf("%w: bad Content-Length %q", ErrProtocolViolation, value)
				}
				contentLength = n
			}
			// Content-Type and any other headers are ignored.
		}
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("%w: missing Content-Length header", ErrProtocolViolation)
	}

	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, fmt.Errorf("%w: stream ended mid-frame: %v", ErrTransportClosed, err)
	}
	return payload, nil
}

// frameWriter writes Content-Length delimited frames. A single lock
// serializes writers so frames are never interleaved mid-payload.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w}
}

// WriteFrame appends the header line and exactly len(payload) bytes.
func (fw *frameWriter) WriteFrame(payload []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := io.WriteString(fw.w, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := fw.w.Write(payload); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}
