package rtsp

import "errors"

var (
	// ErrProtocol marks an unparsable or semantically incomplete message from either side.
	ErrProtocol = errors.New("protocol violation")

	ErrMissingCSeq        = errors.New("missing CSeq")
	ErrUnknownCamera      = errors.New("unknown camera")
	ErrCameraOffline      = errors.New("camera is offline")
	ErrCameraMismatch     = errors.New("camera changed within one connection")
	ErrMalformedTransport = errors.New("malformed transport")
	ErrUnsupportedMethod  = errors.New("unsupported method")
	ErrNotSetup           = errors.New("PLAY before SETUP")
	ErrTooManyTracks      = errors.New("too many tracks")
	ErrAlreadyRegistered  = errors.New("camera already registered")
	ErrSessionInUse       = errors.New("session id held by another connection")
)
