package store

import "fmt"

// StorageFault wraps a local I/O failure. Callers treat it as retryable at
// the next scheduled operation; it never marks a message as permanently
// failed and never counts against a queue entry's attempt budget.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error {
	return e.Err
}

// fault wraps err in a StorageFault, passing nil through.
func fault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageFault{Op: op, Err: err}
}
