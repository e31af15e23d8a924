package domain

import "errors"

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUserNotFound         = errors.New("user not found")
	ErrCallNotFound         = errors.New("call not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrCallEnded            = errors.New("call already ended")
	ErrCallNotRinging       = errors.New("call is not ringing")
	ErrNotParticipant       = errors.New("not a participant of this call")
	ErrNotGroupMember       = errors.New("not a member of this group")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrNotConnected         = errors.New("user not connected")
)
