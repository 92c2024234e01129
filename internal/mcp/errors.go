// Package mcp exposes local context retrieval and embedding management as
// Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/sbarron/ambiance/internal/errors"
)

// MCP error codes. The -320xx range is implementation defined.
const (
	ErrCodeNotIndexed      = -32001
	ErrCodeEmbeddingFailed = -32002
	ErrCodeTimeout         = -32003
	ErrCodeBusy            = -32004

	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an error reported to MCP clients.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts an internal error to an MCPError. The message carries
// the error's suggestion so clients can act on it.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if ae, ok := amerrors.As(err); ok {
		return mapAmbianceError(ae)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError reports a bad tool argument.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError reports an unknown tool.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

func mapAmbianceError(ae *amerrors.AmbianceError) *MCPError {
	msg := ae.Message
	if ae.Suggestion != "" {
		msg += " " + ae.Suggestion
	}

	switch ae.Code {
	case amerrors.ErrCodeNotFound:
		return &MCPError{Code: ErrCodeNotIndexed, Message: msg}
	case amerrors.ErrCodeGenerationInProgress:
		return &MCPError{Code: ErrCodeBusy, Message: msg}
	case amerrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: msg}
	}

	switch ae.Category {
	case amerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
	case amerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: msg}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: msg}
	}
}
