package callable

import (
	"io"
	"net/http"

	"github.com/wolfman30/clinic-functions/internal/apperr"
)

const maxBodyBytes = 10 << 20

// HTTPHandler serves the dispatcher behind a plain HTTP router. name
// extracts the function name from the request; the caller must already be
// in the request context.
func HTTPHandler(d *Dispatcher, name func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = w.Write(failure(apperr.InvalidArgument("callables accept POST only")))
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			err = apperr.InvalidArgument("request body could not be read")
			w.WriteHeader(apperr.HTTPStatus(err))
			_, _ = w.Write(failure(err))
			return
		}
		status, out := d.Invoke(r.Context(), name(r), body)
		w.WriteHeader(status)
		_, _ = w.Write(out)
	})
}
