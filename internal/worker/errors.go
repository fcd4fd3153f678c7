package worker

import "errors"

// RecoverableError marks a per-item fault. Pipelines log it, skip the item
// and carry on.
type RecoverableError struct{ Err error }

func (e *RecoverableError) Error() string { return e.Err.Error() }
func (e *RecoverableError) Unwrap() error { return e.Err }

// FatalError aborts the rest of the pipeline for one worker.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Err: err}
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func IsRecoverable(err error) bool {
	var re *RecoverableError
	return errors.As(err, &re)
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
