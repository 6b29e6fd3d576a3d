package validation

import (
	"fmt"
	"net/http"
)

// ValidateAndParseMultipart caps the body with MaxBytesReader and parses the form.
// Exceeding the cap makes the server stop reading and close the connection.
func ValidateAndParseMultipart(r *http.Request, w http.ResponseWriter, maxSize int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	// keep at most 32 MiB in memory, the rest spills to temp files
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return fmt.Errorf("%w: failed to parse multipart form: %v", ErrPayloadTooLarge, err)
	}

	return nil
}

// FormatSizeMB converts bytes to megabytes for user-friendly error messages.
func FormatSizeMB(bytes int64) float64 {
	return float64(bytes) / (1024 * 1024)
}
