package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrUnknown is an unknown error.
	ErrUnknown ErrorCode = iota
	// ErrUnreachable is returned when every attempt failed at the transport
	// level and no response was ever received.
	ErrUnreachable
	// ErrRateLimited is returned when the API kept answering 429 until the
	// attempt budget ran out.
	ErrRateLimited
	// ErrServer is returned when the API kept answering 5xx until the attempt
	// budget ran out.
	ErrServer
	// ErrClient is returned for any other non-2xx response. It is never retried.
	ErrClient
	// ErrMissingSecurityToken is returned when deleting without a security token.
	ErrMissingSecurityToken
	// ErrAuthenticationRequired is returned when an operation needs a token
	// and the client has none.
	ErrAuthenticationRequired
	// ErrInvalidArgument is returned for requests rejected before sending.
	ErrInvalidArgument
	// ErrDecode is returned when a successful response cannot be decoded.
	ErrDecode
)

var codeNames = map[ErrorCode]string{
	ErrUnknown:                "unknown",
	ErrUnreachable:            "unreachable",
	ErrRateLimited:            "rate limited",
	ErrServer:                 "server error",
	ErrClient:                 "client error",
	ErrMissingSecurityToken:   "missing security token",
	ErrAuthenticationRequired: "authentication required",
	ErrInvalidArgument:        "invalid argument",
	ErrDecode:                 "decode",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error represents an error from the mystbin API or from local validation.
// Network-originating errors carry the status code, raw body and headers of
// the last response observed.
type Error struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Body       []byte
	// Data is the decoded body: a JSON value or the body text.
	Data   any
	Header http.Header
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP status: %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "mystbin: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// IsNotFound returns true if the error indicates the paste was not found.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	return hasCode(err, ErrRateLimited)
}

// IsServerError returns true if the API kept failing with 5xx.
func IsServerError(err error) bool {
	return hasCode(err, ErrServer)
}

// IsUnreachable returns true if no response could be obtained.
func IsUnreachable(err error) bool {
	return hasCode(err, ErrUnreachable)
}

// IsMissingSecurityToken returns true if a delete was attempted without a token.
func IsMissingSecurityToken(err error) bool {
	return hasCode(err, ErrMissingSecurityToken)
}

// IsAuthenticationRequired returns true if the operation needs a token.
func IsAuthenticationRequired(err error) bool {
	return hasCode(err, ErrAuthenticationRequired)
}

// IsInvalidArgument returns true if the request was rejected locally.
func IsInvalidArgument(err error) bool {
	return hasCode(err, ErrInvalidArgument)
}

func codeForStatus(status int) ErrorCode {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrServer
	default:
		return ErrClient
	}
}

func newResponseError(resp *response) *Error {
	return &Error{
		Code:       codeForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		Data:       resp.Data,
		Header:     resp.Header,
	}
}
