package client

import "errors"

var (
	// ErrTransportUnavailable means an outgoing event was dropped because
	// the connection is closed or its queue is full. Local authoring
	// continues regardless.
	ErrTransportUnavailable = errors.New("client: transport unavailable")

	// ErrPersistence wraps failures talking to the stroke store.
	ErrPersistence = errors.New("client: persistence failure")
)
