package eventroutes

import "errors"

// Sentinel errors for the event route service layer.
var (
	ErrNotFound          = errors.New("event route not found")
	ErrEventTypeMismatch = errors.New("event type in body does not match path")
)
