package proxy

import (
	"bufio"
	"errors"
	"io"
)

const crlf = "\r\n"

// relayHeaders copies header lines from src to dst up to and including
// the blank terminator line and flushes dst. Each line is re-terminated
// with CRLF. It returns the number of header lines relayed.
func relayHeaders(dst *bufio.Writer, src *bufio.Reader) (int, error) {
	n := 0
	for {
		line, err := readLine(src)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, newCodedError(ErrCodeHTTPRequestReadFailed, err)
		}
		if line == "" {
			break
		}
		if _, err := dst.WriteString(line + crlf); err != nil {
			return n, newCodedError(ErrCodeHTTPRequestWriteFailed, err)
		}
		n++
	}

	if _, err := dst.WriteString(crlf); err != nil {
		return n, newCodedError(ErrCodeHTTPRequestWriteFailed, err)
	}
	if err := dst.Flush(); err != nil {
		return n, newCodedError(ErrCodeHTTPRequestWriteFailed, err)
	}
	return n, nil
}

// discardHeaders consumes header lines up to and including the blank
// terminator, leaving src positioned at whatever follows the header block.
func discardHeaders(src *bufio.Reader) (int, error) {
	n := 0
	for {
		line, err := readLine(src)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, newCodedError(ErrCodeHTTPRequestReadFailed, err)
		}
		if line == "" {
			return n, nil
		}
		n++
	}
}
