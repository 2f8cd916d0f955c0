package pagination

import (
	"context"
	"net/http"
)

type paramsKey struct{}

// WithParams attaches parsed list parameters to ctx.
func WithParams(ctx context.Context, params Params) context.Context {
	return context.WithValue(ctx, paramsKey{}, params)
}

// FromContext returns the parameters stored by WithParams or Middleware.
func FromContext(ctx context.Context) (Params, bool) {
	if ctx == nil {
		return Params{}, false
	}
	params, ok := ctx.Value(paramsKey{}).(Params)
	return params, ok
}

// Middleware parses page_size and page_token before a list handler runs. A bad
// value is handed to reject and the handler is skipped.
func Middleware(opts Options, reject func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			params, err := FromRequest(r, opts)
			if err != nil {
				if reject != nil {
					reject(w, r, err)
				} else {
					http.Error(w, err.Error(), http.StatusBadRequest)
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(WithParams(r.Context(), params)))
		})
	}
}
