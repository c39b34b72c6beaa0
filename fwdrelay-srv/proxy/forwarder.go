package proxy

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
)

// ForwardOutcome describes how a forward call ended
type ForwardOutcome int

const (
	// ForwardEOF means the source reached a clean end of stream.
	ForwardEOF ForwardOutcome = iota
	// ForwardPeerClosed means one side was reset or already closed.
	// This is a normal end for a relay and carries no error.
	ForwardPeerClosed
	// ForwardFailed means an unexpected I/O failure.
	ForwardFailed
)

func (o ForwardOutcome) String() string {
	switch o {
	case ForwardEOF:
		return "eof"
	case ForwardPeerClosed:
		return "peer-closed"
	case ForwardFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type flusher interface {
	Flush() error
}

// forward copies src to dst in chunks of at most ForwardChunkSize bytes
// until src ends. Every chunk is written completely before the next read,
// and dst is flushed after each write if it supports flushing. The call
// keeps no state beyond its own buffer.
func forward(dst io.Writer, src io.Reader) (int64, ForwardOutcome, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	flush, _ := dst.(flusher)

	var written int64
	for {
		n, readErr := src.Read(*buf)
		if n > 0 {
			w, writeErr := dst.Write((*buf)[:n])
			written += int64(w)
			if writeErr == nil && w != n {
				writeErr = io.ErrShortWrite
			}
			if writeErr == nil && flush != nil {
				writeErr = flush.Flush()
			}
			if writeErr != nil {
				return finishForward(written, writeErr)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, ForwardEOF, nil
			}
			return finishForward(written, readErr)
		}
	}
}

func finishForward(written int64, err error) (int64, ForwardOutcome, error) {
	if isPeerClosed(err) {
		logger.Trace("Relay ended by peer after %d bytes: %v", written, err)
		return written, ForwardPeerClosed, nil
	}
	logger.Error("Relay failed after %d bytes: %v", written, err)
	return written, ForwardFailed, err
}

// isPeerClosed reports whether err means the other end went away.
func isPeerClosed(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
