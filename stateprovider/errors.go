package stateprovider

import "github.com/pkg/errors"

// nonRetryableError marks a failure that must surface to the caller without
// endpoint rotation: a decoding failure or an unexpected RPC response shape
// means every endpoint would fail the same way.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

func nonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

func isNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}
