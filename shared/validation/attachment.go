package validation

import (
	"fmt"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"time"

	"github.com/picrelay/picrelay/shared/domain"
)

// ValidateImages opens every part and checks its MIME type against the allow list.
// lastModified holds optional client timestamps (unix millis) in part order.
// On error every already opened part is closed.
func ValidateImages(fileHeaders []*multipart.FileHeader, allowedMimes []string, lastModified []string) ([]*domain.PendingFile, error) {
	if len(fileHeaders) == 0 {
		return nil, nil
	}

	allowed := BuildAllowedMimeMap(allowedMimes)

	var pendingFiles []*domain.PendingFile
	fail := func(err error) ([]*domain.PendingFile, error) {
		for _, pf := range pendingFiles {
			if c, ok := pf.Data.(multipart.File); ok {
				c.Close()
			}
		}
		return nil, err
	}

	for i, fileHeader := range fileHeaders {
		if fileHeader.Filename == "" {
			return fail(fmt.Errorf("%w: part %d has no filename", ErrMissingFilename, i))
		}

		mimeType, err := DetectMimeType(fileHeader)
		if err != nil {
			return fail(err)
		}
		if !allowed[mimeType] {
			return fail(fmt.Errorf("%w: %s (file: %s)", ErrInvalidMimeType, mimeType, fileHeader.Filename))
		}

		file, err := fileHeader.Open()
		if err != nil {
			return fail(fmt.Errorf("failed to open uploaded file: %w", err))
		}

		var modified *time.Time
		if i < len(lastModified) {
			modified = parseMillis(lastModified[i])
		}

		pendingFiles = append(pendingFiles, &domain.PendingFile{
			Filename:         filepath.Base(fileHeader.Filename),
			SizeBytes:        fileHeader.Size,
			MimeType:         mimeType,
			LastModifiedDate: modified,
			Data:             file,
		})
	}

	return pendingFiles, nil
}

func BuildAllowedMimeMap(mimes []string) map[string]bool {
	allowed := make(map[string]bool, len(mimes))
	for _, m := range mimes {
		allowed[m] = true
	}
	return allowed
}

func DetectMimeType(fileHeader *multipart.FileHeader) (string, error) {
	mimeType := fileHeader.Header.Get("Content-Type")

	// If no Content-Type or it's generic, detect from extension
	if mimeType == "" || mimeType == "application/octet-stream" {
		if detected := mime.TypeByExtension(filepath.Ext(fileHeader.Filename)); detected != "" {
			mimeType = detected
		}
	}

	if mimeType == "" {
		return "", fmt.Errorf("%w: could not detect MIME type for file: %s", ErrInvalidMimeType, fileHeader.Filename)
	}

	// strip parameters such as "; charset=binary"
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mediaType
	}
	return mimeType, nil
}

func parseMillis(s string) *time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
