package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur during audit operations.
var (
	// ErrEmptyEvidence indicates that aggregation was requested with no
	// per-image verdicts.
	ErrEmptyEvidence = errors.New("no evidence verdicts to aggregate")

	// ErrInvalidVerdict indicates a verdict carried a decision outside the
	// closed compliance set.
	ErrInvalidVerdict = errors.New("invalid verdict")

	// ErrEmptyInstruction indicates a control instruction without audit steps.
	ErrEmptyInstruction = errors.New("instruction has no audit steps")

	// ErrBlankClause indicates a clause whose description is empty.
	ErrBlankClause = errors.New("clause description is blank")
)

// CompilationError reports that a clause could not be turned into a
// ControlInstruction. It names the clause so batch callers can report
// partial failures per clause.
type CompilationError struct {
	// ClauseTitle is the title of the clause that failed to compile.
	ClauseTitle string

	// Err is the underlying failure (gateway, parse or validation).
	Err error
}

// Error implements the error interface for CompilationError.
func (e *CompilationError) Error() string {
	return fmt.Sprintf("compile clause %q: %v", e.ClauseTitle, e.Err)
}

// Unwrap returns the underlying error, supporting Go 1.13+ error unwrapping.
func (e *CompilationError) Unwrap() error { return e.Err }

// NewCompilationError creates a new CompilationError for the given clause.
func NewCompilationError(clauseTitle string, err error) *CompilationError {
	return &CompilationError{
		ClauseTitle: clauseTitle,
		Err:         err,
	}
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// Validate checks the ControlInstruction invariants: a description is
// present and there is at least one non-blank audit step.
func (ci ControlInstruction) Validate() error {
	verr := NewValidationError("ControlInstruction")
	if isBlank(ci.DescriptionControl) {
		verr.AddError("description_control is empty")
	}
	if len(ci.AuditInstructions) == 0 {
		verr.AddError("audit_instructions is empty")
		return fmt.Errorf("%w: %w", ErrEmptyInstruction, verr)
	}
	for i, step := range ci.AuditInstructions {
		if isBlank(step) {
			verr.AddError(fmt.Sprintf("audit instruction %d is blank", i+1))
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}
