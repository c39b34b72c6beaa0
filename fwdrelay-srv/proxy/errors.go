package proxy

import (
	"errors"
	"fmt"
)

// Error represents a proxy-specific error with a code and description
type Error struct {
	Code        string
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProxyError creates a new Error with the given code and description
func NewProxyError(code, description string, cause error) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Cause:       cause,
	}
}

// newCodedError creates an Error using the registered description of code
func newCodedError(code string, cause error) *Error {
	return NewProxyError(code, GetErrorDescription(code), cause)
}

// Sentinel errors of the request line parser. A session that hits either
// one ends without writing a response or emitting a record.
var (
	ErrNoRequest            = errors.New("no request line")
	ErrMalformedRequestLine = errors.New("malformed request line")
)

// Proxy Error Codes
const (
	// Configuration and Initialization Errors (E1000-E1999)
	ErrCodeUnknownProxyType     = "E1007"
	ErrCodeListenerCreateFailed = "E1008"

	// Connection and Network Errors (E2000-E2999)
	ErrCodeInvalidAddress = "E2006"
	ErrCodeInvalidPort    = "E2007"
	ErrCodeDialFailed     = "E2009"

	// HTTP Processing Errors (E4000-E4999)
	ErrCodeHTTPRequestReadFailed   = "E4001"
	ErrCodeHTTPResponseReadFailed  = "E4002"
	ErrCodeHTTPRequestWriteFailed  = "E4003"
	ErrCodeHTTPResponseWriteFailed = "E4004"
	ErrCodeHTTPBodyWriteFailed     = "E4006"
	ErrCodeHTTPForwardFailed       = "E4007"
	ErrCodeMalformedRequestLine    = "E4012"
	ErrCodeUnsupportedScheme       = "E4013"

	// Proxy Chain and Forwarding Errors (E6000-E6999)
	ErrCodeSOCKS5DialerFailed     = "E6001"
	ErrCodeSOCKS5ConnectFailed    = "E6002"
	ErrCodeHTTPProxyDialFailed    = "E6003"
	ErrCodeHTTPProxyConnectFailed = "E6004"
	ErrCodeCONNECTRequestFailed   = "E6005"
	ErrCodeCONNECTResponseFailed  = "E6006"
	ErrCodeProxyAuthFailed        = "E6007"
	ErrCodeProxyDenied            = "E6008"

	// Internal and System Errors (E9900-E9999)
	ErrCodePanicRecovered = "E9903"
)

// ErrorDescriptions maps error codes to human-readable descriptions.
var ErrorDescriptions = map[string]string{
	ErrCodeUnknownProxyType:     "Unknown or unsupported forward type",
	ErrCodeListenerCreateFailed: "Failed to create network listener",

	ErrCodeInvalidAddress: "Invalid network address format",
	ErrCodeInvalidPort:    "Invalid port number",
	ErrCodeDialFailed:     "Failed to dial target address",

	ErrCodeHTTPRequestReadFailed:   "Failed to read HTTP request",
	ErrCodeHTTPResponseReadFailed:  "Failed to read HTTP response",
	ErrCodeHTTPRequestWriteFailed:  "Failed to write HTTP request",
	ErrCodeHTTPResponseWriteFailed: "Failed to write HTTP response",
	ErrCodeHTTPBodyWriteFailed:     "Failed to write HTTP message body",
	ErrCodeHTTPForwardFailed:       "Failed to forward HTTP request",
	ErrCodeMalformedRequestLine:    "Malformed HTTP request line",
	ErrCodeUnsupportedScheme:       "Unsupported request-target scheme",

	ErrCodeSOCKS5DialerFailed:     "Failed to create SOCKS5 dialer",
	ErrCodeSOCKS5ConnectFailed:    "SOCKS5 connection failed",
	ErrCodeHTTPProxyDialFailed:    "Failed to dial HTTP proxy server",
	ErrCodeHTTPProxyConnectFailed: "HTTP proxy connection failed",
	ErrCodeCONNECTRequestFailed:   "Failed to send CONNECT request",
	ErrCodeCONNECTResponseFailed:  "Failed to read CONNECT response",
	ErrCodeProxyAuthFailed:        "Proxy authentication failed",
	ErrCodeProxyDenied:            "Proxy request denied",

	ErrCodePanicRecovered: "Recovered from panic condition",
}

// GetErrorDescription returns the description for a given error code
func GetErrorDescription(code string) string {
	if desc, exists := ErrorDescriptions[code]; exists {
		return desc
	}
	return "Unknown error code"
}

func hasCodeIn(err error, from, to string) bool {
	var proxyErr *Error
	if errors.As(err, &proxyErr) {
		return proxyErr.Code >= from && proxyErr.Code < to
	}
	return false
}

// IsConnectionError checks if the error is connection-related
func IsConnectionError(err error) bool {
	return hasCodeIn(err, "E2000", "E3000")
}

// IsHTTPError checks if the error is HTTP-related
func IsHTTPError(err error) bool {
	return hasCodeIn(err, "E4000", "E5000")
}

// IsProxyChainError checks if the error is proxy chain-related
func IsProxyChainError(err error) bool {
	return hasCodeIn(err, "E6000", "E7000")
}

// ErrorCode returns the code of the first *Error in err's chain, or "".
func ErrorCode(err error) string {
	var proxyErr *Error
	if errors.As(err, &proxyErr) {
		return proxyErr.Code
	}
	return ""
}
