package errors

type RevokedError struct {
	message string
	reason  string
}

func NewRevokedError(msg string, reason string) *RevokedError {
	return &RevokedError{
		message: msg,
		reason:  reason,
	}
}

func (re *RevokedError) Error() string {
	return re.message
}

func (re *RevokedError) Reason() string {
	return re.reason
}

func (re *RevokedError) Revoked() {}
