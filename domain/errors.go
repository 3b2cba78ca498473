package domain

import "errors"

// Error kinds surfaced by the client components. Callers match them with
// errors.Is; concrete errors wrap them with context.
var (
	// ErrPermissionDenied means the capture device was declined or does not exist.
	ErrPermissionDenied = errors.New("capture device unavailable")
	// ErrTransport covers dial failures, write failures and unexpected closures.
	ErrTransport = errors.New("transport error")
	// ErrMalformedMessage is returned for inbound frames that cannot be decoded.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrPlaybackFailure is returned when a fragment cannot be decoded or played.
	ErrPlaybackFailure = errors.New("playback failure")
	// ErrEndOfTurnLost means recording stopped while the connection was not
	// open, so the end-of-utterance marker never reached the server.
	ErrEndOfTurnLost = errors.New("end of utterance not delivered")
)
