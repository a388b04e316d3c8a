package core

import "errors"

// Expected, recoverable conditions surfaced directly to callers.
// Persistence problems are wrapped into ErrStorageFailure instead so the
// transport layer never leaks driver details.
var (
	ErrTenantMismatch    = errors.New("entity belongs to another tenant")
	ErrUnknownCategory   = errors.New("unknown category")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyCancelled  = errors.New("entry already cancelled")
	ErrDirectionMismatch = errors.New("category flow direction mismatch")
	ErrDuplicateAnchor   = errors.New("anchor already set for this year")
	ErrNoAnchor          = errors.New("no opening balance anchor")
	ErrStorageFailure    = errors.New("storage failure")
)
