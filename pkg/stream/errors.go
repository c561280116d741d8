package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownConnection is returned for an id the registry has no record of.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrDisconnected is returned when an operation requires a Connected
	// connection.
	ErrDisconnected = errors.New("connection disconnected")

	// ErrOutgoingOverflow is returned when an append would exceed the
	// connection's outgoing bound. Nothing is appended.
	ErrOutgoingOverflow = errors.New("outgoing buffer full")

	// ErrIncomingOverflow is reported when unconsumed inbound bytes would
	// exceed the incoming bound. The connection is disconnected.
	ErrIncomingOverflow = errors.New("incoming buffer full")
)

// ConnectionError attaches the connection id to a registry error.
type ConnectionError struct {
	ID  ID
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %d: %v", e.ID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func connErr(id ID, err error) error {
	return &ConnectionError{ID: id, Err: err}
}
