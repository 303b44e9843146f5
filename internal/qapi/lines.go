// ABOUTME: Newline-delimited framing for the read half of a QAPI connection
// ABOUTME: Yields one non-blank line at a time with the trailing CR stripped

package qapi

import (
	"bufio"
	"bytes"
	"io"
)

type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader(r io.Reader, maxLineSize int) *lineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, min(64*1024, maxLineSize)), maxLineSize)
	return &lineReader{scanner: s}
}

// next returns the next non-blank line, or io.EOF at the end of input. The
// returned slice is only valid until the following call.
func (l *lineReader) next() ([]byte, error) {
	for l.scanner.Scan() {
		line := bytes.TrimSpace(l.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := l.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
