package store

// Store defines the interface for run-record persistence operations.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the record doesn't exist (for Load/Delete)
//   - Return descriptive errors for I/O, serialization, or validation failures
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRecord atomically saves the record for the given run.
	// If a record already exists for this runID, it is overwritten.
	// The implementation should use atomic write strategies (e.g., temp file
	// + rename) to prevent corruption in case of failures.
	SaveRecord(runID string, record *RunRecord) error

	// LoadRecord retrieves the record for the given run.
	// Returns ErrNotFound if no record exists for this runID.
	LoadRecord(runID string) (*RunRecord, error)

	// ListRecords returns metadata for all stored runs.
	// The returned slice may be empty if no records exist.
	ListRecords() ([]RunInfo, error)

	// DeleteRecord removes the record and all associated artifacts for the
	// given run, including the step trace.
	// Returns ErrNotFound if no record exists for this runID.
	DeleteRecord(runID string) error
}

// ErrNotFound is returned when a requested run record does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run record.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run record not found: " + e.RunID
	}
	return "run record not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
