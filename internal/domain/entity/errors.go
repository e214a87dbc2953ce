package entity

import "errors"

var (
	// Agent errors
	ErrInvalidAgentName = errors.New("invalid agent name")

	// Conversation errors
	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrInvalidRole           = errors.New("invalid message role")
	ErrSystemMessageNotFirst = errors.New("system message must be the first message")
)
