package clierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/nithinmohantk/fhir-security/pkg/fhir"
	"github.com/nithinmohantk/fhir-security/pkg/oauth"
)

// Exit codes.
const (
	ExitSuccess  = 0 // Operation completed successfully
	ExitGeneral  = 1 // Unknown/unhandled error
	ExitAuth     = 2 // Not authenticated, rejected credentials, expired session
	ExitConfig   = 3 // Missing or unusable configuration
	ExitNotFound = 4 // Resource doesn't exist
	ExitServer   = 5 // The FHIR or authorization server rejected the request
)

// Error codes (strings) for programmatic error handling
const (
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeAuthRejected     = "AUTH_REJECTED"
	CodeKeyUnavailable   = "KEY_UNAVAILABLE"
	CodeConfigMissing    = "CONFIG_MISSING"
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeResourceNotFound = "RESOURCE_NOT_FOUND"
	CodeServerError      = "SERVER_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	ExitCode  int    `json:"-"` // Not serialized, used for os.Exit
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// NotAuthenticated creates an error for commands that need a session.
func NotAuthenticated() *CLIError {
	return &CLIError{
		Code:      CodeNotAuthenticated,
		Message:   "not authenticated",
		Hint:      "Run 'fhirsec auth' to obtain an access token",
		Retryable: false,
		ExitCode:  ExitAuth,
	}
}

// AuthRejected creates an error for a token endpoint rejection.
func AuthRejected(status int) *CLIError {
	return &CLIError{
		Code:      CodeAuthRejected,
		Message:   fmt.Sprintf("authorization server rejected the request (status %d)", status),
		Hint:      "Check the client id and scope in your configuration",
		Retryable: false,
		ExitCode:  ExitAuth,
	}
}

// KeyUnavailable creates an error when the signing key cannot be produced.
func KeyUnavailable(err error) *CLIError {
	return &CLIError{
		Code:      CodeKeyUnavailable,
		Message:   fmt.Sprintf("could not obtain a signing key: %s", err),
		Retryable: true,
		ExitCode:  ExitGeneral,
	}
}

// ConfigMissing creates an error for an absent configuration file.
func ConfigMissing(path string) *CLIError {
	return &CLIError{
		Code:      CodeConfigMissing,
		Message:   fmt.Sprintf("configuration file not found at %s", path),
		Hint:      "Create it with server_url, token_url, client_id and scope",
		Retryable: false,
		ExitCode:  ExitConfig,
	}
}

// ConfigInvalid creates an error for an unparseable or incomplete config.
func ConfigInvalid(reason string) *CLIError {
	return &CLIError{
		Code:      CodeConfigInvalid,
		Message:   fmt.Sprintf("invalid configuration: %s", reason),
		Retryable: false,
		ExitCode:  ExitConfig,
	}
}

// ResourceNotFound creates an error when a FHIR resource doesn't exist.
func ResourceNotFound(resourceType, id string) *CLIError {
	return &CLIError{
		Code:      CodeResourceNotFound,
		Message:   fmt.Sprintf("%s/%s not found", resourceType, id),
		Retryable: false,
		ExitCode:  ExitNotFound,
	}
}

// ServerError creates an error for a non-success FHIR server response.
func ServerError(status int) *CLIError {
	return &CLIError{
		Code:      CodeServerError,
		Message:   fmt.Sprintf("server returned status %d", status),
		Retryable: status >= 500,
		ExitCode:  ExitServer,
	}
}

// ConnectionFailed creates an error for connection failures.
func ConnectionFailed(target string) *CLIError {
	return &CLIError{
		Code:      CodeConnectionFailed,
		Message:   fmt.Sprintf("failed to connect to '%s'", target),
		Hint:      "Check network connectivity and target address",
		Retryable: true,
		ExitCode:  ExitGeneral,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:      CodeInternalError,
		Message:   msg,
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// FromError maps an error from the token or request layers to a CLIError.
// Already-structured errors pass through unchanged.
func FromError(err error, target string) *CLIError {
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr
	}

	if errors.Is(err, oauth.ErrNotAuthenticated) {
		return NotAuthenticated()
	}

	var transportErr *oauth.TransportError
	if errors.As(err, &transportErr) {
		return ConnectionFailed(target)
	}

	var serverErr *oauth.AuthServerError
	if errors.As(err, &serverErr) {
		return AuthRejected(serverErr.Status)
	}

	var outcomeErr *fhir.OperationOutcomeError
	if errors.As(err, &outcomeErr) {
		if outcomeErr.Status == http.StatusNotFound {
			return &CLIError{
				Code:      CodeResourceNotFound,
				Message:   "resource not found",
				Retryable: false,
				ExitCode:  ExitNotFound,
			}
		}
		return ServerError(outcomeErr.Status)
	}

	return InternalError(err)
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json" for JSON output, anything else for human-readable table format.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			// Fallback to simple JSON if marshaling fails
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	}

	// Human-readable table format
	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	fmt.Fprintln(os.Stderr, FormatError(err, outputFormat))
}
