package domain

import "errors"

// Access-control and delivery failures share one taxonomy so the
// gateway can map any of them to a close reason code.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomExists         = errors.New("room id already taken")
	ErrPolicyMismatch     = errors.New("policy mismatch")
	ErrForbidden          = errors.New("forbidden")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrNotInvited         = errors.New("not invited")
	ErrBanned             = errors.New("banned")
	ErrRoomLocked         = errors.New("room locked")
	ErrSlowConsumer       = errors.New("slow consumer disconnected")
	ErrDuplicateMessage   = errors.New("duplicate message")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
