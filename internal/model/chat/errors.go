package chat

import "errors"

var (
	ErrMissingMessageID = errors.New("message has no id")
	ErrMissingChannelID = errors.New("message has no channel reference")
)
