package operator

import "errors"

var (
	// ErrMissingIdentifier means the request carried no session id.
	ErrMissingIdentifier = errors.New("missing session identifier")
	// ErrUnknownSession means the session id is not in the registry.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNotJoined means the device is not on the session's roster.
	ErrNotJoined = errors.New("device not joined to session")
)
