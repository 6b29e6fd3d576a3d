package slackclient

import (
	"context"
	"errors"
	"net"
	"net/http"

	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/slack-go/slack"
)

// classify wraps err as an ExternalServiceError and decides whether a later
// attempt could succeed.
func classify(op string, err error) *internal_errors.ExternalServiceError {
	var ext *internal_errors.ExternalServiceError
	if errors.As(err, &ext) {
		return ext
	}
	return &internal_errors.ExternalServiceError{Op: op, Retryable: retryable(err), Err: err}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return true
	}
	var status slack.StatusCodeError
	if errors.As(err, &status) {
		return status.Code == http.StatusTooManyRequests || status.Code >= http.StatusInternalServerError
	}
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		switch apiErr.Err {
		case "ratelimited", "internal_error", "fatal_error", "service_unavailable", "request_timeout":
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}

// apiErrorCode returns the Slack error string of an ok:false response.
func apiErrorCode(err error) string {
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.Err
	}
	return ""
}
