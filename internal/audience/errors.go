package audience

import "errors"

// Sentinel errors for the audience service layer.
var (
	ErrNotFound     = errors.New("audience segment not found")
	ErrNameRequired = errors.New("segment name is required")
)
