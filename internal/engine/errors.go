package engine

import "errors"

// Validation failures surfaced to the transport layer before any pipeline
// work happens. Everything past validation is absorbed into the run record
// instead of being returned: the contact always gets a reply.
var (
	ErrTenantMissing  = errors.New("tenant is required")
	ErrChannelInvalid = errors.New("unsupported channel")
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrMessageTooLong = errors.New("message text exceeds the size limit")
	ErrContactMissing = errors.New("contact address is required")
)

// InternalReply is sent when the pipeline itself fails; internals never
// reach the contact.
const InternalReply = "Sorry, something went wrong on our side. A member of the team will follow up with you."
