package errors

type ExpirationError struct {
	message string
}

func NewExpirationError(msg string) *ExpirationError {
	return &ExpirationError{
		message: msg,
	}
}

func (ee *ExpirationError) Error() string {
	return ee.message
}

func (ee *ExpirationError) Expired() {}
