package services

import (
	"errors"

	"school-copilot/internal/database"
)

var (
	// ErrNotFound is returned when a referenced record does not exist
	ErrNotFound = database.ErrNotFound

	// ErrAccessDenied covers both a missing class and a student without
	// access, so callers cannot tell the two apart.
	ErrAccessDenied = errors.New("access denied")

	ErrQuotaExceeded       = errors.New("daily question limit reached")
	ErrBlockedTerm         = errors.New("query contains a blocked term")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrExtractionFailed    = errors.New("text extraction failed")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrNoContent           = errors.New("no text extracted from document")
	ErrForbidden           = errors.New("operation not permitted")
)

// AccessDeniedMessage is the single user-facing message for class access failures
const AccessDeniedMessage = "You do not have access to this class"
