package errors

const (
	AdmissionTimeout string = "admission"
	ConnectTimeout   string = "connect"
	RequestTimeout   string = "request"
)

type TimeoutError struct {
	message string
	phase   string
}

func NewTimeoutError(msg string, phase string) *TimeoutError {
	return &TimeoutError{
		message: msg,
		phase:   phase,
	}
}

func (te *TimeoutError) Error() string {
	return te.message
}

func (te *TimeoutError) Phase() string {
	return te.phase
}

func (te *TimeoutError) Timeout() {}
