package renderer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind represents the type of renderer failure
type ErrorKind int

const (
	// KindTransport indicates the renderer could not be reached or the connection broke
	KindTransport ErrorKind = iota
	// KindTimeout indicates the call exceeded its deadline
	KindTimeout
	// KindRejected indicates the renderer answered but refused the instruction
	KindRejected
	// KindProtocol indicates a malformed or unexpected reply
	KindProtocol
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindRejected:
		return "rejected"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Common renderer errors
var (
	// ErrNotStarted indicates a control call was made before Start
	ErrNotStarted = errors.New("renderer not started")
	// ErrStopped indicates a control call was made after Stop
	ErrStopped = errors.New("renderer stopped")
)

// RendererError represents a classified renderer RPC failure
//
//nolint:revive // RendererError reads better at call sites than renderer.Error
type RendererError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Cause   error
}

// NewRendererError creates a RendererError for the given operation
func NewRendererError(kind ErrorKind, op, message string, cause error) *RendererError {
	return &RendererError{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Error implements the error interface
func (e *RendererError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s (caused by: %v)", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *RendererError) Unwrap() error {
	return e.Cause
}

// ClassifyError classifies a generic error raised by a renderer call
func ClassifyError(op string, err error) *RendererError {
	if err == nil {
		return nil
	}

	var rendErr *RendererError
	if errors.As(err, &rendErr) {
		return rendErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewRendererError(KindTimeout, op, "deadline exceeded", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRendererError(KindTimeout, op, "network timeout", err)
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "timed out") {
		return NewRendererError(KindTimeout, op, "operation timed out", err)
	}

	if errors.Is(err, ErrNotStarted) || errors.Is(err, ErrStopped) {
		return NewRendererError(KindRejected, op, "renderer not running", err)
	}

	return NewRendererError(KindTransport, op, "renderer call failed", err)
}
