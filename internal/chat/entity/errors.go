package entity

import "errors"

// Domain errors for the conversation client
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUnauthorized         = errors.New("credential rejected")
	ErrAttachmentTooLarge   = errors.New("attachment exceeds size limit")
	ErrInvalidRecipient     = errors.New("invalid recipient")
	ErrEmptyRoomID          = errors.New("room id cannot be empty")
)
