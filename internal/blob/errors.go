package blob

import "fmt"

// ValidationError indicates user-fixable bad input (shape, size, mime).
// Routes map it to 400, or 413 when TooLarge is set.
type ValidationError struct {
	Field    string
	Reason   string
	TooLarge bool
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError indicates an unknown hash or path. Routes map it to 404.
type NotFoundError struct {
	Kind string // "blob", "path"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, ShortID(e.ID))
}

// AuthRequiredError indicates a missing or invalid admin credential.
// Routes map it to 401.
type AuthRequiredError struct{}

func (e *AuthRequiredError) Error() string {
	return "authentication required"
}

// StorageError wraps a filesystem failure in the hash store.
// Routes map it to 500 with a generic body.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConnectionError is the terminal error after exhausting coordination
// store connection retries. It carries the last underlying error.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
