package errors

type PersistenceError struct {
	message string
}

func NewPersistenceError(msg string) *PersistenceError {
	return &PersistenceError{
		message: msg,
	}
}

func (pe *PersistenceError) Error() string {
	return pe.message
}

func (pe *PersistenceError) Persistence() {}
