package core

import "errors"

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrUserExists         = errors.New("user already exists")
	ErrNoLogs             = errors.New("no interaction logs found for session")
	ErrNothingToCreate    = errors.New("nothing to create: no segment carries playable media")
	ErrNoVideoStatus      = errors.New("no video status recorded for session")
	ErrInvalidInteraction = errors.New("invalid interaction")
)
