package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/picrelay/picrelay/shared/domain"
	internal_errors "github.com/picrelay/picrelay/shared/errors"
	mw "github.com/picrelay/picrelay/shared/middleware"
	"github.com/picrelay/picrelay/shared/utils"
	"github.com/picrelay/picrelay/shared/validation"
)

var errNotAuthorized = &internal_errors.ErrorWithStatusCode{Message: "Not authorized", StatusCode: http.StatusUnauthorized}

// currentUser returns the authenticated user or answers 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	user := mw.GetUserFromContext(r)
	if user == nil {
		utils.WriteErrorAndStatusCode(w, errNotAuthorized)
		return nil, false
	}
	return user, true
}

// parseIntParam parses an integer parameter from a string and returns a meaningful error
func parseIntParam(param string, paramName string) (int, error) {
	val, err := strconv.Atoi(param)
	if err != nil {
		return 0, internal_errors.NewValidation("invalid %s: must be an integer", paramName)
	}
	return val, nil
}

// queryInt reads an optional integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return parseIntParam(raw, name)
}

// intakeError gives multipart validation failures their client-facing status.
func intakeError(err error) error {
	switch {
	case errors.Is(err, validation.ErrPayloadTooLarge):
		return &internal_errors.ErrorWithStatusCode{Message: err.Error(), StatusCode: http.StatusRequestEntityTooLarge}
	case errors.Is(err, validation.ErrInvalidMimeType),
		errors.Is(err, validation.ErrMissingFilename),
		errors.Is(err, validation.ErrTooManyFiles):
		return &internal_errors.ErrorWithStatusCode{Message: err.Error(), StatusCode: http.StatusBadRequest}
	default:
		return fmt.Errorf("read upload: %w", err)
	}
}
