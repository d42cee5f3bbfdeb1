package bridge

import "errors"

// Dispatcher errors.
var (
	// ErrUnknownTopic indicates a structurally invalid write topic.
	ErrUnknownTopic = errors.New("unknown topic shape")

	// ErrTopicMismatch indicates a well-formed topic addressed to a
	// different root, network or application. Not an error condition
	// for the caller, just "not for us".
	ErrTopicMismatch = errors.New("topic for different bridge")

	// ErrInvalidField indicates an unsupported field segment on an
	// otherwise valid write topic.
	ErrInvalidField = errors.New("invalid topic field")

	// ErrInvalidPayload indicates a command payload that none of the
	// supported dialects could parse.
	ErrInvalidPayload = errors.New("invalid command payload")
)
