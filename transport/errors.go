package transport

import "github.com/pkg/errors"

var (
	ErrClosed             = errors.New("transport closed")
	ErrNotConnected       = errors.New("no receiver bound at endpoint")
	ErrUnknownDestination = errors.New("unknown destination")
	ErrDestinationExists  = errors.New("destination already added")
	ErrStreamMismatch     = errors.New("stream id mismatch")
	ErrEndpointInUse      = errors.New("endpoint already bound")
	ErrInvalidEndpoint    = errors.New("invalid endpoint")
)
