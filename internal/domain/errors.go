package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for the given key.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPackageNotFound indicates the question package could not be loaded.
	ErrPackageNotFound = errors.New("question package not found")
	// ErrQuestionNotFound indicates a question ID outside the package.
	ErrQuestionNotFound = errors.New("question not found in package")
	// ErrDuplicateSession signals that a non-terminal session already exists
	// for the (user, package) pair. Callers resolve it by adopting the
	// existing session rather than surfacing a failure.
	ErrDuplicateSession = errors.New("active session already exists")
	// ErrInvalidTransition is returned when an operation is attempted from the
	// wrong session state, e.g. answering after submission has begun.
	ErrInvalidTransition = errors.New("invalid session state for operation")
	// ErrIndexOutOfRange is returned for navigation outside the question list.
	ErrIndexOutOfRange = errors.New("question index out of range")
	// ErrNotOwner is returned when a caller acts on another user's session.
	ErrNotOwner = errors.New("session belongs to another user")
	// ErrResultNotFound is returned when a score result does not exist yet.
	ErrResultNotFound = errors.New("score result not found")
)
