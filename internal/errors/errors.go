package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Resolution failure kinds. Match them with errors.Is.
var (
	ErrUnknownProfile     = errors.New("unknown cos client name")
	ErrUnknownAccount     = errors.New("unknown cos account")
	ErrMissingRegion      = errors.New("no region defined")
	ErrClientConstruction = errors.New("cos client construction failed")
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

// ResolutionError reports a failure to derive settings or a client for a repository.
// Kind is one of the Err* sentinels; Err is the underlying cause, if any.
type ResolutionError struct {
	Repository string
	Profile    string
	Account    string
	Known      []string
	Kind       error
	Err        error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	if e.Repository != "" {
		fmt.Fprintf(&b, "[%s] ", e.Repository)
	}

	switch e.Kind {
	case ErrUnknownProfile:
		fmt.Fprintf(&b, "%s [%s]. Existing client configs: %s", e.Kind, e.Profile, strings.Join(e.Known, ","))
	case ErrUnknownAccount:
		fmt.Fprintf(&b, "%s [%s]: no credentials configured and no secret entry found", e.Kind, e.Account)
	case ErrMissingRegion:
		fmt.Fprintf(&b, "%s for cos repository (client [%s])", e.Kind, e.Profile)
	default:
		b.WriteString(e.Kind.Error())
		if e.Profile != "" {
			fmt.Fprintf(&b, " (client [%s])", e.Profile)
		}
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the failure kind and the cause.
func (e *ResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WithRepository returns a copy of err naming the repository, when err is a
// ResolutionError. A non-empty profile fills the profile if err has none.
func WithRepository(err error, repository, profile string) error {
	var re *ResolutionError
	if !errors.As(err, &re) {
		return err
	}
	cp := *re
	cp.Repository = repository
	if cp.Profile == "" {
		cp.Profile = profile
	}
	return &cp
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var (
		userErr   UserError
		configErr ConfigError
		resErr    *ResolutionError
	)
	if errors.As(err, &userErr) || errors.As(err, &configErr) || errors.As(err, &resErr) {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
