package errors

type CancelledError struct {
	message string
}

func NewCancelledError(msg string) *CancelledError {
	return &CancelledError{
		message: msg,
	}
}

func (ce *CancelledError) Error() string {
	return ce.message
}

func (ce *CancelledError) Cancelled() {}
