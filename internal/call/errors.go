package call

import "errors"

var (
	ErrStaleCall     = errors.New("stale_call")
	ErrCallEnded     = errors.New("call_ended")
	ErrNotInCall     = errors.New("not_in_call")
	ErrAlreadyInCall = errors.New("already_in_call")
	ErrNoHeadroom    = errors.New("no_extension_headroom")
	ErrBadMinutes    = errors.New("invalid_extension_minutes")
)
