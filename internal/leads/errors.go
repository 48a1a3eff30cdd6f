package leads

import "errors"

var (
	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")

	// ErrMissingCompany is returned when a lead has no company
	ErrMissingCompany = errors.New("company id is required")

	// ErrMissingConversation is returned when a lead has no conversation id
	ErrMissingConversation = errors.New("conversation id is required")

	// ErrInvalidStatus is returned for an unknown status or qualification status
	ErrInvalidStatus = errors.New("invalid status")
)
