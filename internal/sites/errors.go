package sites

import "errors"

var (
	ErrNotFound          = errors.New("unit not found")
	ErrAlreadyExists     = errors.New("unit already exists")
	ErrAmbiguousMatch    = errors.New("identifier matches more than one file")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrIO                = errors.New("filesystem error")
)

// OpError records a failed lifecycle operation on a single unit. It unwraps to
// one of the sentinel errors above and, for filesystem failures, to the
// underlying error as well.
type OpError struct {
	Op         string
	Identifier string
	Err        error
}

func (e *OpError) Error() string {
	if e.Identifier == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Identifier + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, identifier string, err error) error {
	if err == nil {
		return nil
	}
	var existing *OpError
	if errors.As(err, &existing) {
		return err
	}
	return &OpError{Op: op, Identifier: identifier, Err: err}
}
