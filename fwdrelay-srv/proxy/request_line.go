package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RequestLine is the parsed first line of a client request
type RequestLine struct {
	Method  string
	Target  string
	Version string
}

// IsConnect reports whether the request asks for a tunnel
func (r RequestLine) IsConnect() bool {
	return strings.EqualFold(r.Method, "CONNECT")
}

func (r RequestLine) String() string {
	return r.Method + " " + r.Target + " " + r.Version
}

// readLine reads one line and strips the trailing CRLF or LF. An
// unterminated final line is returned without error; io.EOF is reported
// on the call after it.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSuffix(line, "\r"), nil
		}
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// ParseRequestLine splits a request line into method, target and version.
func ParseRequestLine(line string) (RequestLine, error) {
	if line == "" {
		return RequestLine{}, ErrNoRequest
	}

	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return RequestLine{}, newCodedError(ErrCodeMalformedRequestLine, fmt.Errorf("%w: %q", ErrMalformedRequestLine, line))
	}

	return RequestLine{
		Method:  parts[0],
		Target:  parts[1],
		Version: parts[2],
	}, nil
}

// readRequestLine reads and parses the first line of a request. End of
// stream before any byte is reported as ErrNoRequest.
func readRequestLine(r *bufio.Reader) (RequestLine, error) {
	line, err := readLine(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return RequestLine{}, ErrNoRequest
		}
		return RequestLine{}, newCodedError(ErrCodeHTTPRequestReadFailed, err)
	}
	return ParseRequestLine(line)
}
