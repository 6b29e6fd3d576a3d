package validation

import "errors"

// ErrPayloadTooLarge is returned when the request body exceeds size limits
var ErrPayloadTooLarge = errors.New("payload too large")

// ErrInvalidMimeType is returned when an uploaded file has a disallowed MIME type
var ErrInvalidMimeType = errors.New("invalid MIME type")

// ErrTooManyFiles is returned when one request carries more parts than allowed
var ErrTooManyFiles = errors.New("too many files")

// ErrMissingFilename is returned for a file part without a filename
var ErrMissingFilename = errors.New("missing filename")
