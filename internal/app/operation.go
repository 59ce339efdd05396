package app

// Operation tracks the CLI command being run. It lives in memory with ID=0
// until a command that changes the media tree persists it, which gives it the
// id snapshots are versioned with.
type Operation struct {
	ID         int64
	Name       string
	Parameters string
	Status     string // "success" or "error"
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

// NewOperation creates a new in-memory operation.
func NewOperation(name, parameters string) *Operation {
	return &Operation{
		Name:       name,
		Parameters: parameters,
		Status:     statusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Record marks the operation failed when err is non-nil and returns err.
func (op *Operation) Record(err error) error {
	if err != nil {
		op.Status = statusError
	}
	return err
}
