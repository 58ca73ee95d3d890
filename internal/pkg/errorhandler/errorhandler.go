package errorhandler

import (
	"context"
	"net/http"

	"github.com/fitroom/fitroom-api/internal/pkg/logger"
	"github.com/fitroom/fitroom-api/internal/pkg/response"
)

// HandleError logs the underlying error server-side and sends a sanitized
// error response. The client never sees err.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	HandleErrorWithDetails(ctx, w, status, code, message, nil, err)
}

// HandleErrorWithDetails handles an error response with additional details and logging
func HandleErrorWithDetails(ctx context.Context, w http.ResponseWriter, status int, code, message string, details map[string]string, err error) {
	l := logger.FromContext(ctx)
	event := l.Error()
	if status < http.StatusInternalServerError {
		event = l.Warn()
	}
	event = event.
		Str("error_code", code).
		Str("error_message", message).
		Int("status_code", status)

	if err != nil {
		event = event.Err(err)
	}
	if details != nil {
		event = event.Interface("error_details", details)
	}
	event.Msg("Request error")

	response.ErrorWithDetails(w, status, code, message, details)
}
