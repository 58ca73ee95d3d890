package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fitroom/fitroom-api/internal/pkg/errorhandler"
	"github.com/fitroom/fitroom-api/internal/pkg/logger"
	"github.com/fitroom/fitroom-api/internal/pkg/response"
)

// Recover turns a handler panic into a logged 500. http.ErrAbortHandler is
// re-raised so net/http can drop the connection.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			ctx := r.Context()
			logger.FromContext(ctx).Debug().Str("stack", string(debug.Stack())).Msg("panic stack")
			errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal,
				"An unexpected error occurred", fmt.Errorf("panic in %s %s: %v", r.Method, r.URL.Path, rec))
		}()

		next.ServeHTTP(w, r)
	})
}
