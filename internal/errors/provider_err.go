package errors

const (
	ProviderUnavailable   string = "unavailable"
	ProviderProtocolError string = "protocol"
)

type ProviderError struct {
	message string
	kind    string
}

func NewProviderUnavailableError(msg string) *ProviderError {
	return &ProviderError{
		message: msg,
		kind:    ProviderUnavailable,
	}
}

func NewProviderProtocolError(msg string) *ProviderError {
	return &ProviderError{
		message: msg,
		kind:    ProviderProtocolError,
	}
}

func (pe *ProviderError) Error() string {
	return pe.message
}

func (pe *ProviderError) Kind() string {
	return pe.kind
}

func (pe *ProviderError) Provider() {}
