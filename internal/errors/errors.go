package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// Kind classifies a failed vault operation.
type Kind int

const (
	// AuthFailure means no usable bearer token could be obtained.
	AuthFailure Kind = iota + 1
	// TransportFailure means the HTTP call failed, returned a non-2xx
	// status or carried a body that is not valid JSON.
	TransportFailure
	// MappingFailure means the response lacked a required field.
	MappingFailure
)

func (k Kind) String() string {
	switch k {
	case AuthFailure:
		return "auth failure"
	case TransportFailure:
		return "transport failure"
	case MappingFailure:
		return "mapping failure"
	default:
		return "unknown failure"
	}
}

// OperationError carries the failure kind together with the operation and
// the secret it was working on.
type OperationError struct {
	Op      string
	Kind    Kind
	Name    string
	Version string
	Err     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Name != "" {
		b.WriteString(" ")
		b.WriteString(e.Name)
		if e.Version != "" {
			b.WriteString("/")
			b.WriteString(e.Version)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Auth wraps err as an AuthFailure. An error that already carries a kind
// keeps it.
func Auth(err error) error {
	return withKind(AuthFailure, err)
}

// Transport wraps err as a TransportFailure.
func Transport(err error) error {
	return withKind(TransportFailure, err)
}

// Mapping builds a MappingFailure for a missing or malformed field.
func Mapping(format string, args ...interface{}) error {
	return &OperationError{Kind: MappingFailure, Err: fmt.Errorf(format, args...)}
}

func withKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}
	return &OperationError{Kind: kind, Err: err}
}

// Annotate stamps op, name and version on err. Errors without a kind are
// treated as transport failures.
func Annotate(op, name, version string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return &OperationError{Op: op, Kind: opErr.Kind, Name: name, Version: version, Err: opErr.Err}
	}
	return &OperationError{Op: op, Kind: TransportFailure, Name: name, Version: version, Err: err}
}

// KindOf returns the failure kind carried by err, or zero.
func KindOf(err error) Kind {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return 0
}

// IsAuth reports whether err is an AuthFailure.
func IsAuth(err error) bool { return KindOf(err) == AuthFailure }

// IsTransport reports whether err is a TransportFailure.
func IsTransport(err error) bool { return KindOf(err) == TransportFailure }

// IsMapping reports whether err is a MappingFailure.
func IsMapping(err error) bool { return KindOf(err) == MappingFailure }

// StatusCode returns the HTTP status of a failed vault response, or 0 when
// err did not come from a response.
func StatusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether the vault answered 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == 404
}

// SuggestionFor returns a hint for the user based on the failure.
func SuggestionFor(err error) string {
	if IsAuth(err) {
		return "Run 'az login' or check the configured managed identity / service principal"
	}

	switch StatusCode(err) {
	case 401:
		return "The bearer token was rejected. Check the tenant and run 'az login' again"
	case 403:
		return "Check Key Vault access policies or RBAC: 'Get', 'List' and 'Set' permissions are required for secrets"
	case 404:
		return "Verify the secret name exists in the Key Vault. Secret names are case-sensitive"
	case 429:
		return "Request was throttled. Wait a moment and try again"
	}

	if IsMapping(err) {
		return "The vault response was incomplete. Check the configured api_version"
	}

	errStr := strings.ToLower(fmt.Sprint(err))
	switch {
	case strings.Contains(errStr, "no such host") || strings.Contains(errStr, "connection refused"):
		return "Unable to connect. Check the vault_url and your network"
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		return "The request timed out. Raise timeout_ms or check your network"
	default:
		return "Check Azure credentials, Key Vault URL, and access policies"
	}
}

// ForUser turns a vault operation error into a UserError for display.
func ForUser(err error) error {
	if err == nil {
		return nil
	}
	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var cfgErr ConfigError
	if errors.As(err, &cfgErr) {
		return err
	}

	msg := "Key Vault request failed"
	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.Op != "" {
		target := opErr.Name
		if opErr.Version != "" {
			target += "/" + opErr.Version
		}
		msg = fmt.Sprintf("Failed to %s", opErr.Op)
		if target != "" {
			msg += fmt.Sprintf(" '%s'", target)
		}
	}

	return UserError{
		Message:    msg,
		Details:    err.Error(),
		Suggestion: SuggestionFor(err),
		Err:        err,
	}
}
